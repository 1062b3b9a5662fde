package domain

import (
	"errors"
	"fmt"
)

var (
	ErrConfigMissing    = errors.New("transport config missing")
	ErrConfigIncomplete = errors.New("transport config incomplete")
	ErrTemplateNotFound = errors.New("template not found")
	ErrTransport        = errors.New("transport error")
	ErrSendTimeout      = errors.New("timeout")
	ErrInvalidRecipient = errors.New("invalid recipient")
	ErrUnknownEvent     = errors.New("unknown event type")
)

// ParseError reports a stored setting whose value does not match its schema.
type ParseError struct {
	SettingType SettingType `json:"setting_type"`
	SettingKey  string      `json:"setting_key"`
	Err         error       `json:"-"`
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("parse %s/%s: %v", e.SettingType, e.SettingKey, e.Err)
}

func (e *ParseError) Unwrap() error { return e.Err }
