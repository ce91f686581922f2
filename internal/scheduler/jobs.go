package scheduler

import (
	"context"
	"fmt"
	"time"

	"github.com/jhd66g/coinbase-systematic-trader/internal/ledger"
	"github.com/jhd66g/coinbase-systematic-trader/internal/notify"
	"github.com/jhd66g/coinbase-systematic-trader/internal/rebalance"
	"github.com/jhd66g/coinbase-systematic-trader/internal/reliability"
	"github.com/rs/zerolog"
)

// DailyRebalanceJob runs the full trading cycle once and emails the
// summary. Email failures are logged but never fail the job; the trades
// and the ledger entry are what matter.
type DailyRebalanceJob struct {
	sequencer *rebalance.Sequencer
	ledger    *ledger.Repository
	mailer    *notify.Mailer
	timeout   time.Duration
	log       zerolog.Logger
}

// NewDailyRebalanceJob creates the daily trading job.
func NewDailyRebalanceJob(sequencer *rebalance.Sequencer, repo *ledger.Repository, mailer *notify.Mailer, log zerolog.Logger) *DailyRebalanceJob {
	return &DailyRebalanceJob{
		sequencer: sequencer,
		ledger:    repo,
		mailer:    mailer,
		timeout:   10 * time.Minute,
		log:       log.With().Str("job", "daily_rebalance").Logger(),
	}
}

// Name implements Job.
func (j *DailyRebalanceJob) Name() string { return "daily_rebalance" }

// Run implements Job.
func (j *DailyRebalanceJob) Run() error {
	ctx, cancel := context.WithTimeout(context.Background(), j.timeout)
	defer cancel()

	event, err := j.sequencer.Run(ctx)
	if err != nil {
		return fmt.Errorf("rebalance cycle failed: %w", err)
	}

	events, err := j.ledger.All()
	if err != nil {
		return fmt.Errorf("failed to load ledger for summary: %w", err)
	}

	if err := j.mailer.SendDailySummary(event, ledger.ComputePnL(events)); err != nil {
		j.log.Error().Err(err).Msg("Failed to send daily summary")
	}
	return nil
}

// LedgerBackupJob ships the ledger to off-site storage.
type LedgerBackupJob struct {
	backup  *reliability.BackupService
	timeout time.Duration
}

// NewLedgerBackupJob creates the backup job.
func NewLedgerBackupJob(backup *reliability.BackupService) *LedgerBackupJob {
	return &LedgerBackupJob{backup: backup, timeout: 15 * time.Minute}
}

// Name implements Job.
func (j *LedgerBackupJob) Name() string { return "ledger_backup" }

// Run implements Job.
func (j *LedgerBackupJob) Run() error {
	ctx, cancel := context.WithTimeout(context.Background(), j.timeout)
	defer cancel()
	return j.backup.Run(ctx)
}
