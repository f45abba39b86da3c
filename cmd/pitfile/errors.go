package main

import (
	"errors"
	"fmt"
)

// Mount errors
var (
	ErrRepository     = errors.New("invalid repository")
	ErrLoadPolicy     = errors.New("loading policy")
	ErrLoadSecrets    = errors.New("loading smtp secrets")
	ErrNotifier       = errors.New("configuring notifier")
	ErrMount          = errors.New("mounting")
	ErrQuarantineArea = errors.New("preparing quarantine area")
	ErrWatchPolicy    = errors.New("watching policy")
	ErrInvalidLevel   = errors.New("invalid log level")
	ErrOpenSyslog     = errors.New("opening syslog")
)

// Quarantine errors
var (
	ErrOpenLedger = errors.New("opening quarantine ledger")
	ErrListLedger = errors.New("listing quarantine ledger")
)

// Check errors
var (
	ErrPolicyInvalid = errors.New("policy invalid")
)

// exitError ends the process with code once the command has printed the
// failure itself.
type exitError struct {
	code int
	err  error
}

func (e *exitError) Error() string {
	if e.err == nil {
		return fmt.Sprintf("exit status %d", e.code)
	}
	return e.err.Error()
}

func (e *exitError) Unwrap() error { return e.err }

func exitWith(code int, err error) error {
	if code == 0 {
		return nil
	}
	return &exitError{code: code, err: err}
}
