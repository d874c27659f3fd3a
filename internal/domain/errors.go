package domain

import (
	"context"
	"errors"
)

var (
	ErrNetwork          = errors.New("erro de rede")
	ErrProviderDegraded = errors.New("provedor degradado")
	ErrParse            = errors.New("erro de extração")
	ErrValidation       = errors.New("valor inválido")
	ErrConflict         = errors.New("conflito de escrita")
	ErrStore            = errors.New("armazenamento indisponível")
	ErrNotFound         = errors.New("não encontrado")
)

// Status labels used in logs and metrics.
const (
	StatusOK         = "ok"
	StatusNetwork    = "network"
	StatusDegraded   = "degraded"
	StatusParse      = "parse"
	StatusValidation = "validation"
	StatusStore      = "store"
	StatusCanceled   = "canceled"
	StatusUnknown    = "unknown"
)

// Classify maps an ingestion error to its status label.
func Classify(err error) string {
	switch {
	case err == nil:
		return StatusOK
	case errors.Is(err, ErrProviderDegraded):
		return StatusDegraded
	case errors.Is(err, ErrNetwork):
		return StatusNetwork
	case errors.Is(err, ErrParse):
		return StatusParse
	case errors.Is(err, ErrValidation):
		return StatusValidation
	case errors.Is(err, ErrStore):
		return StatusStore
	case errors.Is(err, context.Canceled):
		return StatusCanceled
	default:
		return StatusUnknown
	}
}
