package workflow

import "testing"

func TestCanTransition(t *testing.T) {
	allowed := []struct{ from, to Status }{
		{StatusPending, StatusUnderReview},
		{StatusPending, StatusApproved},
		{StatusPending, StatusRejected},
		{StatusUnderReview, StatusApproved},
		{StatusUnderReview, StatusRejected},
		{StatusApproved, StatusRevoked},
		{StatusApproved, StatusExpired},
	}
	for _, tt := range allowed {
		if !CanTransition(tt.from, tt.to) {
			t.Errorf("expected %s -> %s to be allowed", tt.from, tt.to)
		}
	}

	denied := []struct{ from, to Status }{
		{StatusPending, StatusRevoked},
		{StatusPending, StatusExpired},
		{StatusUnderReview, StatusRevoked},
		{StatusApproved, StatusPending},
		{StatusApproved, StatusUnderReview},
		{StatusRejected, StatusApproved},
		{StatusRevoked, StatusApproved},
		{StatusExpired, StatusApproved},
		{StatusExpired, StatusExpired},
	}
	for _, tt := range denied {
		if CanTransition(tt.from, tt.to) {
			t.Errorf("expected %s -> %s to be denied", tt.from, tt.to)
		}
	}
}

func TestStatusTerminal(t *testing.T) {
	terminal := map[Status]bool{
		StatusPending:     false,
		StatusUnderReview: false,
		StatusApproved:    false,
		StatusRejected:    true,
		StatusRevoked:     true,
		StatusExpired:     true,
	}
	for status, want := range terminal {
		if got := status.Terminal(); got != want {
			t.Errorf("%s.Terminal() = %v, want %v", status, got, want)
		}
	}
}

func TestNotificationKindFor(t *testing.T) {
	cases := map[Status]string{
		StatusApproved:    NotificationApproved,
		StatusRejected:    NotificationRejected,
		StatusRevoked:     NotificationRevoked,
		StatusExpired:     NotificationExpired,
		StatusPending:     "",
		StatusUnderReview: "",
	}
	for status, want := range cases {
		if got := notificationKindFor(status); got != want {
			t.Errorf("notificationKindFor(%s) = %q, want %q", status, got, want)
		}
	}
}
