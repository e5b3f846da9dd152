// Package access decides which roles may perform which operations.
package access

import (
	"fmt"
	"sort"

	"messhall/internal/domain"
	"messhall/internal/models"
	"messhall/internal/service"
)

var bookers = []models.Role{models.RoleStudent, models.RoleMessStaff, models.RoleMessSupervisor, models.RoleAdmin}

// DefaultRules lists the roles allowed per operation. A nil entry means any
// authenticated principal.
var DefaultRules = map[service.Operation][]models.Role{
	service.OpListMeals:         nil,
	service.OpManageCatalog:     {models.RoleAdmin, models.RoleMessSupervisor},
	service.OpCreateBooking:     bookers,
	service.OpListOwnBookings:   nil,
	service.OpCancelBooking:     nil,
	service.OpMarkConsumed:      {models.RoleMessStaff, models.RoleMessSupervisor, models.RoleAdmin},
	service.OpConfirmPayment:    {models.RoleAdmin, models.RoleService},
	service.OpDeleteBooking:     {models.RoleAdmin},
	service.OpRequestPromotion:  {models.RoleAwaitingSetup},
	service.OpListPromotions:    {models.RoleAdmin},
	service.OpApprovePromotion:  {models.RoleAdmin},
	service.OpRejectPromotion:   {models.RoleAdmin},
	service.OpListNotifications: {models.RoleAdmin},
	service.OpExportReport:      {models.RoleAdmin, models.RoleMessSupervisor},
}

type Policy struct {
	rules map[service.Operation]map[models.Role]bool
	open  map[service.Operation]bool
}

func NewPolicy(rules map[service.Operation][]models.Role) *Policy {
	p := &Policy{
		rules: make(map[service.Operation]map[models.Role]bool, len(rules)),
		open:  make(map[service.Operation]bool),
	}
	for op, roles := range rules {
		if roles == nil {
			p.open[op] = true
			continue
		}
		set := make(map[models.Role]bool, len(roles))
		for _, r := range roles {
			set[r] = true
		}
		p.rules[op] = set
	}
	return p
}

func Default() *Policy {
	return NewPolicy(DefaultRules)
}

// Allowed reports whether role may perform op. Unknown operations are denied.
func (p *Policy) Allowed(op service.Operation, role models.Role) bool {
	if role == "" {
		return false
	}
	if p.open[op] {
		return true
	}
	return p.rules[op][role]
}

// Authorize returns a Forbidden error when the actor may not perform op.
func (p *Policy) Authorize(op service.Operation, actor service.Actor) error {
	if p.Allowed(op, actor.Role) {
		return nil
	}
	return domain.Forbidden("operation", op, fmt.Sprintf("role %q is not permitted", actor.Role))
}

// Roles returns the roles permitted for op, or nil when any principal may perform it.
func (p *Policy) Roles(op service.Operation) []models.Role {
	if p.open[op] {
		return nil
	}
	roles := make([]models.Role, 0, len(p.rules[op]))
	for r := range p.rules[op] {
		roles = append(roles, r)
	}
	sort.Slice(roles, func(i, j int) bool { return roles[i] < roles[j] })
	return roles
}
