package main

import "fmt"

// Exit codes, bit-exact with CLI contract.
const (
	exitSuccess            = 0
	exitOptionError        = 1
	exitIncompatibleOption = 2
	exitCertFileError      = 3
	exitCMSTimeout         = 4
	exitUserInterrupt      = 5
	exitOther              = 6
)

// cliError pairs a human message with the exit code main should return
// for it, so each subcommand's RunE can return one error value instead
// of calling os.Exit from inside cobra's callback tree.
type cliError struct {
	code int
	msg  string
}

func (e *cliError) Error() string { return e.msg }

func optionErrorf(format string, args ...any) error {
	return &cliError{code: exitOptionError, msg: fmt.Sprintf(format, args...)}
}

func incompatibleOptionErrorf(format string, args ...any) error {
	return &cliError{code: exitIncompatibleOption, msg: fmt.Sprintf(format, args...)}
}

func certFileErrorf(format string, args ...any) error {
	return &cliError{code: exitCertFileError, msg: fmt.Sprintf(format, args...)}
}

func timeoutErrorf(format string, args ...any) error {
	return &cliError{code: exitCMSTimeout, msg: fmt.Sprintf(format, args...)}
}

func otherErrorf(format string, args ...any) error {
	return &cliError{code: exitOther, msg: fmt.Sprintf(format, args...)}
}
