package svc

import "errors"

// ErrNoInstruments 错误：没有配置任何交易对
var ErrNoInstruments = errors.New("no instruments configured")

// ErrStorageInitFailed 错误：存储初始化失败
var ErrStorageInitFailed = errors.New("storage initialization failed")
