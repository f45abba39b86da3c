package notify

import "errors"

var (
	ErrLoadSecrets = errors.New("load smtp secrets")
	ErrNoRecipient = errors.New("message has no recipient")
	ErrSendMail    = errors.New("send mail")
	ErrInvalidAddr = errors.New("invalid smtp address")
)
