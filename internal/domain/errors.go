package domain

import (
	"errors"
	"fmt"
)

// FallbackMessage is shown to users when an unexpected failure occurs.
const FallbackMessage = "Something went wrong. Please try again."

// The messages of these errors are shown to users verbatim.
var (
	// ErrSessionNotFound is returned when no session exists for a PIN.
	ErrSessionNotFound = errors.New("PIN not found!")
	// ErrInvalidPIN is returned when a PIN is not exactly four digits.
	ErrInvalidPIN = errors.New("PIN must be 4 digits.")
	// ErrPINTaken is returned when a generated PIN collides with a live session.
	ErrPINTaken = errors.New("PIN already in use.")
	// ErrInvalidName is returned for an empty display name.
	ErrInvalidName = errors.New("Please enter a name.")
	// ErrNameTooLong is returned when a display name exceeds the configured length.
	ErrNameTooLong = errors.New("That name is too long.")
	// ErrNameTaken is returned when another member already uses the name.
	ErrNameTaken = errors.New("That name is already taken. Please choose another.")
	// ErrBanned is returned when a kicked user tries to rejoin.
	ErrBanned = errors.New("You have been removed from this game.")
	// ErrLateJoinDisabled is returned when joining a started game without late join.
	ErrLateJoinDisabled = errors.New("This game has already started.")
	// ErrParticipantNotFound is returned when a user acts before joining.
	ErrParticipantNotFound = errors.New("You are not part of this game.")
	// ErrNotHost is returned when a player issues a host-only command.
	ErrNotHost = errors.New("Only the host can do that.")
	// ErrNotAdmin is returned when a non-privileged user launches a quiz.
	ErrNotAdmin = errors.New("Only teachers can launch a quiz.")
	// ErrUnauthorized is returned for missing or invalid credentials.
	ErrUnauthorized = errors.New("Please sign in to continue.")
	// ErrInvalidTransition is returned when a phase change is not legal from the current phase.
	ErrInvalidTransition = errors.New("That action is not available right now.")
	// ErrQuestionClosed is returned for an answer aimed at a question that is no longer open.
	ErrQuestionClosed = errors.New("Time is up for this question.")
	// ErrAlreadyAnswered is returned for a second answer to the same question.
	ErrAlreadyAnswered = errors.New("You already answered this question.")
	// ErrOptionNotFound is returned for an out-of-range option index.
	ErrOptionNotFound = errors.New("That answer option does not exist.")
	// ErrReactionLimit is returned once a player used up their reactions for a question.
	ErrReactionLimit = errors.New("Reaction limit reached for this question.")
	// ErrInvalidReaction is returned for an empty or oversized emoji.
	ErrInvalidReaction = errors.New("That reaction is not allowed.")
	// ErrQuizNotFound indicates the quiz content could not be loaded.
	ErrQuizNotFound = errors.New("Quiz not found.")
	// ErrEmptyQuiz is returned when launching a quiz without questions.
	ErrEmptyQuiz = errors.New("This quiz has no questions.")
	// ErrLeaderboardNotFound is returned for an unknown leaderboard id.
	ErrLeaderboardNotFound = errors.New("Leaderboard not found.")
	// ErrInvalidLeaderboard is returned when a leaderboard has no name.
	ErrInvalidLeaderboard = errors.New("Leaderboard name is required.")
)

var rejections = []error{
	ErrSessionNotFound,
	ErrInvalidPIN,
	ErrPINTaken,
	ErrInvalidName,
	ErrNameTooLong,
	ErrNameTaken,
	ErrBanned,
	ErrLateJoinDisabled,
	ErrParticipantNotFound,
	ErrNotHost,
	ErrNotAdmin,
	ErrUnauthorized,
	ErrInvalidTransition,
	ErrQuestionClosed,
	ErrAlreadyAnswered,
	ErrOptionNotFound,
	ErrReactionLimit,
	ErrInvalidReaction,
	ErrQuizNotFound,
	ErrEmptyQuiz,
	ErrLeaderboardNotFound,
	ErrInvalidLeaderboard,
}

// RateLimitError is returned when an actor exceeded a rate limit.
type RateLimitError struct {
	ResetIn int
}

func (e *RateLimitError) Error() string {
	return fmt.Sprintf("Too many attempts. Try again in %d seconds.", e.ResetIn)
}

// IsRejection reports whether err is an expected business-rule or validation failure.
func IsRejection(err error) bool {
	if err == nil {
		return false
	}
	var limited *RateLimitError
	if errors.As(err, &limited) {
		return true
	}
	for _, target := range rejections {
		if errors.Is(err, target) {
			return true
		}
	}
	return false
}

// PublicMessage returns the text a user may see for err.
func PublicMessage(err error) string {
	if err == nil {
		return ""
	}
	var limited *RateLimitError
	if errors.As(err, &limited) {
		return limited.Error()
	}
	for _, target := range rejections {
		if errors.Is(err, target) {
			return target.Error()
		}
	}
	return FallbackMessage
}
