package escrow

import (
	"context"
	"unicode/utf8"

	"github.com/fentz26/escrowd/internal/events"
	"github.com/fentz26/escrowd/internal/models"
)

// TemplateParams describes a reusable task blueprint.
type TemplateParams struct {
	Title           string              `json:"title"`
	DescriptionHash models.Hash         `json:"description_hash"`
	DefaultBounty   uint64              `json:"default_bounty"`
	Category        models.TaskCategory `json:"category"`
}

// CreateTemplate stores an active template under the next platform-wide
// template index.
func (e *Engine) CreateTemplate(ctx context.Context, caller models.Address, params TemplateParams) (models.Address, error) {
	var addr models.Address
	err := e.run(ctx, "create-template", caller, func(t *txn) error {
		if utf8.RuneCountInString(params.Title) > maxTitleLen {
			return ErrTitleTooLong
		}
		if !params.Category.Valid() {
			return ErrInvalidCategory
		}
		p, err := t.platform()
		if err != nil {
			return err
		}
		index := p.TemplateCount
		if p.TemplateCount, err = addU64(p.TemplateCount, 1); err != nil {
			return err
		}
		if err := t.Put(models.PlatformAddress(), p); err != nil {
			return err
		}

		addr = models.TemplateAddress(caller, index)
		tmpl := &models.TaskTemplate{
			Creator:         caller,
			TemplateIndex:   index,
			Title:           params.Title,
			DescriptionHash: params.DescriptionHash,
			DefaultBounty:   params.DefaultBounty,
			Category:        params.Category,
			Active:          true,
		}
		if err := t.Create(addr, tmpl); err != nil {
			return err
		}
		return t.emit(events.TemplateCreated{
			Template:      addr,
			Creator:       caller,
			TemplateIndex: index,
			Category:      params.Category,
		})
	})
	if err != nil {
		return models.Address{}, err
	}
	return addr, nil
}

// DeactivateTemplate soft-disables a template. The record stays so past
// tasks can still resolve their linkage.
func (e *Engine) DeactivateTemplate(ctx context.Context, caller, addr models.Address) error {
	return e.run(ctx, "deactivate-template", caller, func(t *txn) error {
		tmpl, err := t.template(addr)
		if err != nil {
			return err
		}
		if tmpl.Creator != caller {
			return ErrNotTaskCreator
		}
		if !tmpl.Active {
			return ErrTemplateInactive
		}
		tmpl.Active = false
		if err := t.Put(addr, tmpl); err != nil {
			return err
		}
		return t.emit(events.TemplateDeactivated{Template: addr, Creator: caller})
	})
}
