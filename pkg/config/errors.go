package config

import "errors"

var (
	ErrReadConfig        = errors.New("read config")
	ErrParseConfig       = errors.New("parse config")
	ErrInvalidConfig     = errors.New("invalid config")
	ErrCompileRule       = errors.New("compile rule")
	ErrMaterializeConfig = errors.New("write default config")
	ErrNotLoaded         = errors.New("config not loaded")
	ErrWatchConfig       = errors.New("watch config")
)
