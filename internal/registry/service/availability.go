package service

import (
	"context"
	"errors"

	"github.com/jmerrifield20/SubzoneRegistry/internal/label"
	"github.com/jmerrifield20/SubzoneRegistry/internal/registry/model"
	"github.com/jmerrifield20/SubzoneRegistry/internal/registry/repository"
)

// CheckAvailability reports whether input can be claimed. Invalid labels
// are answered without touching the store.
func (r *Registry) CheckAvailability(ctx context.Context, input string) (*model.Availability, error) {
	name, err := r.names.Label(input)
	if err != nil {
		reason := err.Error()
		var lerr *label.Error
		if errors.As(err, &lerr) {
			reason = "label " + lerr.Reason
		}
		return &model.Availability{Label: input, Available: false, Reason: reason}, nil
	}

	_, err = r.store.GetByLabel(ctx, name)
	switch {
	case err == nil:
		return &model.Availability{Label: name, Available: false, Reason: "label is already claimed"}, nil
	case errors.Is(err, repository.ErrNotFound):
		return &model.Availability{Label: name, Available: true}, nil
	default:
		return nil, upstream("check availability", err)
	}
}
