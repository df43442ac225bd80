package clanalytics

import (
	"errors"
	"strings"

	"gorm.io/gorm"
)

const (
	MessageAlreadyLiked = "Already liked"
	MessageEmptyComment = "Empty comment"
)

// Result est la forme uniforme des écritures côté appelant
type Result struct {
	Success bool   `json:"success"`
	Message string `json:"message,omitempty"`
}

type CommentResult struct {
	Result
	Data *Comment `json:"data,omitempty"`
}

func ok() Result {
	return Result{Success: true}
}

func failed(message string) Result {
	return Result{Success: false, Message: message}
}

// isDuplicate reconnaît une violation de contrainte unique. gorm traduit
// l'erreur quand TranslateError est actif, les messages bruts des drivers
// servent de filet quand la base a été ouverte sans.
func isDuplicate(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}
	msg := err.Error()
	return strings.Contains(msg, "UNIQUE constraint failed") ||
		strings.Contains(msg, "Duplicate entry") ||
		strings.Contains(msg, "SQLSTATE 23505")
}

func isNotFound(err error) bool {
	return errors.Is(err, gorm.ErrRecordNotFound)
}
