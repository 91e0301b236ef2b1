package models

import (
	"fmt"
	"time"
)

type Booking struct {
	ID               int64     `json:"id"`
	UserID           int64     `json:"user_id"`
	HospitalID       int64     `json:"hospital_id"`
	ResourceType     string    `json:"resource_type"`
	PatientName      string    `json:"patient_name"`
	PatientNote      string    `json:"patient_note"`
	Urgency          string    `json:"urgency"`
	WindowStart      time.Time `json:"window_start"`
	WindowEnd        time.Time `json:"window_end"`
	Status           string    `json:"status"`
	PaymentAmount    int64     `json:"payment_amount"`
	PaymentStatus    string    `json:"payment_status"`
	Reference        string    `json:"reference"`
	ReservationToken string    `json:"reservation_token,omitempty"`
	Flagged          bool      `json:"flagged"`
	CreatedAt        time.Time `json:"created_at"`
	UpdatedAt        time.Time `json:"updated_at"`
	Version          int64     `json:"version"`
}

// BookingStatusHistory is one append-only row per status transition.
type BookingStatusHistory struct {
	ID         int64     `json:"id"`
	BookingID  int64     `json:"booking_id"`
	FromStatus string    `json:"from_status"`
	ToStatus   string    `json:"to_status"`
	ActorID    int64     `json:"actor_id"`
	ActorRole  string    `json:"actor_role"`
	Reason     string    `json:"reason"`
	CreatedAt  time.Time `json:"created_at"`
}

var bookingTransitions = map[string][]string{
	StatusPending:  {StatusApproved, StatusDeclined, StatusCancelled},
	StatusApproved: {StatusCompleted, StatusCancelled},
}

// CanTransition reports whether from→to is a legal booking transition.
// Declined, cancelled and completed are terminal.
func CanTransition(from, to string) bool {
	for _, next := range bookingTransitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// IsTerminalStatus reports whether no further transition is allowed.
func IsTerminalStatus(status string) bool {
	return len(bookingTransitions[status]) == 0
}

// ReasonRequired reports whether a transition must carry a non-empty reason.
func ReasonRequired(to string) bool {
	return to == StatusDeclined || to == StatusCancelled
}

// Роли, которым разрешён переход в целевой статус. Решения о выдаче
// ресурса принимает больница; system покрывает авто-decline и sweep'ы.
var transitionRoles = map[string][]string{
	StatusApproved:  {RoleHospital, RoleAdmin},
	StatusDeclined:  {RoleHospital, RoleAdmin, RoleSystem},
	StatusCancelled: {RoleUser, RoleHospital, RoleAdmin, RoleSystem},
	StatusCompleted: {RoleHospital, RoleAdmin, RoleSystem},
}

// TransitionAuthorized reports whether the actor may drive the booking
// into toStatus. A plain user may only cancel, and only their own booking.
func TransitionAuthorized(actor Actor, booking *Booking, to string) bool {
	allowed := false
	for _, role := range transitionRoles[to] {
		if actor.Role == role {
			allowed = true
			break
		}
	}
	if !allowed {
		return false
	}
	if actor.Role == RoleUser {
		return to == StatusCancelled && actor.ID == booking.UserID
	}
	return true
}

// BookingReference derives the immutable human-presentable code from the id.
func BookingReference(id int64, createdAt time.Time) string {
	return fmt.Sprintf("MB-%d-%06d", createdAt.Year(), id)
}
