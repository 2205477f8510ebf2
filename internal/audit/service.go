package audit

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/veloracommerce/paycore/pkg/db/models"
	"github.com/veloracommerce/paycore/pkg/enums"
	pkgerrors "github.com/veloracommerce/paycore/pkg/errors"
)

// Entry carries one audit fact to record. Detail may be any JSON-marshalable
// value; nil detail writes a null column.
type Entry struct {
	Kind      enums.AuditKind
	Severity  enums.AuditSeverity
	OrderID   *uuid.UUID
	Actor     string
	Reference *string
	Detail    any
}

// Service records audit events. Record accepts an optional transaction so
// callers can make the audit row atomic with the change it describes.
type Service interface {
	Record(ctx context.Context, tx *gorm.DB, entry Entry) error
	ListByOrderID(ctx context.Context, orderID uuid.UUID) ([]models.AuditEvent, error)
}

type service struct {
	repo Repository
}

// NewService builds an audit service with the required dependencies.
func NewService(repo Repository) (Service, error) {
	if repo == nil {
		return nil, fmt.Errorf("audit repository required")
	}
	return &service{repo: repo}, nil
}

func (s *service) Record(ctx context.Context, tx *gorm.DB, entry Entry) error {
	if !entry.Kind.IsValid() {
		return pkgerrors.New(pkgerrors.CodeValidation, "audit kind invalid")
	}
	if entry.Actor == "" {
		return pkgerrors.New(pkgerrors.CodeValidation, "audit actor required")
	}
	severity := entry.Severity
	if severity == "" {
		severity = enums.AuditSeverityInfo
	}
	if !severity.IsValid() {
		return pkgerrors.New(pkgerrors.CodeValidation, "audit severity invalid")
	}

	var detail json.RawMessage
	if entry.Detail != nil {
		raw, err := json.Marshal(entry.Detail)
		if err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeValidation, err, "marshal audit detail")
		}
		detail = raw
	}

	event := &models.AuditEvent{
		Kind:      entry.Kind,
		Severity:  severity,
		OrderID:   entry.OrderID,
		Actor:     entry.Actor,
		Reference: entry.Reference,
		Detail:    detail,
	}
	if _, err := s.repo.WithTx(tx).Append(ctx, event); err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "append audit event")
	}
	return nil
}

func (s *service) ListByOrderID(ctx context.Context, orderID uuid.UUID) ([]models.AuditEvent, error) {
	if orderID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "order id required")
	}
	events, err := s.repo.ListByOrderID(ctx, orderID)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "list audit events")
	}
	return events, nil
}
