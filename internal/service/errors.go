package service

import "errors"

// Guess notice codes, shown to the submitting user
const (
	CodeAlreadyGuessed         = "alreadyGuessed"
	CodeSubmittedPreviousGuess = "submittedPreviousGuess"
)

// GuessError is a rejected submission the user should be told about.
// It is a notice, not a failure, and is never logged as an error.
type GuessError struct {
	Code    string
	Message string
}

func (e *GuessError) Error() string {
	return e.Message
}

// Errors
var (
	ErrAlreadyGuessed         = &GuessError{Code: CodeAlreadyGuessed, Message: "user already guessed"}
	ErrSubmittedPreviousGuess = &GuessError{Code: CodeSubmittedPreviousGuess, Message: "same guess as the previous one"}

	ErrSeedUnavailable = errors.New("seed unavailable")
	ErrNotInGame       = errors.New("no game in progress")
	ErrGuessesClosed   = errors.New("guesses are closed")
	ErrUserBanned      = errors.New("user is banned")
	ErrNotAGuess       = errors.New("message is not a guess")
)
