package lending

import (
	"moneymarket/core/events"
	"moneymarket/crypto"
)

// HandoverState is the phase of a two-step admin transfer.
type HandoverState uint8

const (
	NoPendingAdmin HandoverState = iota
	PendingAdminSet
	AdminAccepted
)

func (s HandoverState) String() string {
	switch s {
	case PendingAdminSet:
		return "pending"
	case AdminAccepted:
		return "accepted"
	default:
		return "none"
	}
}

// AdminHandover holds the admin of a component and any staged successor.
// The zero value has no admin.
type AdminHandover struct {
	admin   crypto.Address
	pending crypto.Address
	state   HandoverState
}

// NewAdminHandover returns a handover owned by admin with nothing staged.
func NewAdminHandover(admin crypto.Address) AdminHandover {
	return AdminHandover{admin: admin}
}

func (h AdminHandover) Admin() crypto.Address   { return h.admin }
func (h AdminHandover) Pending() crypto.Address { return h.pending }
func (h AdminHandover) State() HandoverState    { return h.state }

// IsAdmin reports whether caller is the current admin.
func (h AdminHandover) IsAdmin(caller crypto.Address) bool {
	return !h.admin.IsZero() && caller == h.admin
}

// Propose stages next as pending admin. Only the current admin may propose;
// proposing the zero address clears the staged admin.
func (h AdminHandover) Propose(caller, next crypto.Address) (AdminHandover, error) {
	if !h.IsAdmin(caller) {
		return h, ErrUnauthorized
	}
	h.pending = next
	if next.IsZero() {
		h.state = NoPendingAdmin
	} else {
		h.state = PendingAdminSet
	}
	return h, nil
}

// Accept promotes the pending admin. Only the pending admin may accept.
func (h AdminHandover) Accept(caller crypto.Address) (AdminHandover, error) {
	if h.state != PendingAdminSet || h.pending.IsZero() || caller != h.pending {
		return h, ErrNotPendingAdmin
	}
	h.admin = h.pending
	h.pending = crypto.Address{}
	h.state = AdminAccepted
	return h, nil
}

func proposeAdmin(h *AdminHandover, component, caller, next crypto.Address, emitter events.Emitter) error {
	updated, err := h.Propose(caller, next)
	if err != nil {
		return err
	}
	old := h.pending
	*h = updated
	emitter.Emit(events.LendingAdminChange{Component: component, Old: old, New: next, Pending: true})
	return nil
}

func acceptAdmin(h *AdminHandover, component, caller crypto.Address, emitter events.Emitter) error {
	updated, err := h.Accept(caller)
	if err != nil {
		return err
	}
	oldAdmin, oldPending := h.admin, h.pending
	*h = updated
	emitter.Emit(events.LendingAdminChange{Component: component, Old: oldAdmin, New: h.admin})
	emitter.Emit(events.LendingAdminChange{Component: component, Old: oldPending, Pending: true})
	return nil
}
