package quarantine

import "errors"

var (
	ErrCreateArea       = errors.New("create quarantine area")
	ErrAreaNotWritable  = errors.New("quarantine area not writable")
	ErrRenameQuarantine = errors.New("move file into quarantine")
	ErrReadExcerpt      = errors.New("read quarantine excerpt")
	ErrNotify           = errors.New("send quarantine notification")

	ErrOpenLedger        = errors.New("open quarantine ledger")
	ErrAcquireLedgerLock = errors.New("acquire ledger init lock")
	ErrReleaseLedgerLock = errors.New("release ledger init lock")
	ErrConfigureLedger   = errors.New("configure quarantine ledger")
	ErrMigrateLedger     = errors.New("migrate quarantine ledger")
	ErrRecordLedger      = errors.New("record quarantine entry")
	ErrListLedger        = errors.New("list quarantine entries")
)
