package domain

import "fmt"

// ConfigError reports invalid generation parameters. It is detected eagerly,
// at operation entry, before any sampling happens.
type ConfigError struct {
	Op  string
	Msg string
}

func (e ConfigError) Error() string {
	return fmt.Sprintf("%s: %s", e.Op, e.Msg)
}

// ShapeError reports a structural violation of the table contract: colliding
// subject identifiers on append, ragged input to a reshape, duplicate
// subject/condition pairs, or a reference to a column that does not exist.
type ShapeError struct {
	Op  string
	Msg string
}

func (e ShapeError) Error() string {
	return fmt.Sprintf("%s: %s", e.Op, e.Msg)
}

// RngError reports a sampling failure: a batch whose length does not match
// the requested count, or invalid distribution parameters reaching the
// source. Parameter validation should catch the latter first; the source
// check is the last line of defense.
type RngError struct {
	Op  string
	Msg string
}

func (e RngError) Error() string {
	return fmt.Sprintf("%s: %s", e.Op, e.Msg)
}
