package rpc

import (
	"testing"

	"github.com/objtalk/objtalk/pattern"
	"github.com/objtalk/objtalk/subscription"
)

func mustProvider(t *testing.T, subs *subscription.Table, clientID, patternText string) *subscription.Subscription {
	t.Helper()
	p, err := pattern.Compile(patternText)
	if err != nil {
		t.Fatalf("pattern.Compile(%q): %v", patternText, err)
	}
	return subs.Add(clientID, p, true)
}

func TestCoordinator_InvokeThenResult(t *testing.T) {
	subs := subscription.NewTable()
	provider := mustProvider(t, subs, "provider-1", "dev/lamp")

	c := NewCoordinator()
	pending := c.Invoke("requester-1", 42, provider, "dev/lamp", "on")

	if pending.InvocationID == "" {
		t.Fatal("Invoke did not allocate an invocation id")
	}
	if c.Count() != 1 {
		t.Fatalf("Count = %d, want 1", c.Count())
	}

	got, err := c.Result("provider-1", pending.InvocationID)
	if err != nil {
		t.Fatalf("Result: %v", err)
	}
	if got != pending {
		t.Errorf("Result returned a different Pending than Invoke")
	}
	if c.Count() != 0 {
		t.Errorf("Count after Result = %d, want 0", c.Count())
	}
}

func TestCoordinator_ResultUnknownInvocationID(t *testing.T) {
	c := NewCoordinator()
	if _, err := c.Result("provider-1", "no-such-id"); err != ErrUnknownInvocation {
		t.Fatalf("Result = %v, want ErrUnknownInvocation", err)
	}
}

func TestCoordinator_ResultWrongProvider(t *testing.T) {
	subs := subscription.NewTable()
	provider := mustProvider(t, subs, "provider-1", "dev/lamp")

	c := NewCoordinator()
	pending := c.Invoke("requester-1", nil, provider, "dev/lamp", "on")

	if _, err := c.Result("imposter", pending.InvocationID); err != ErrUnknownInvocation {
		t.Fatalf("Result from non-provider = %v, want ErrUnknownInvocation", err)
	}
	if c.Count() != 1 {
		t.Errorf("a failed Result must not remove the pending invocation, Count = %d", c.Count())
	}
}

func TestCoordinator_FailProviderSubscription(t *testing.T) {
	subs := subscription.NewTable()
	provider := mustProvider(t, subs, "provider-1", "dev/lamp")
	otherProvider := mustProvider(t, subs, "provider-2", "dev/fan")

	c := NewCoordinator()
	p1 := c.Invoke("requester-1", nil, provider, "dev/lamp", "on")
	p2 := c.Invoke("requester-2", nil, provider, "dev/lamp", "off")
	other := c.Invoke("requester-3", nil, otherProvider, "dev/fan", "on")

	failed := c.FailProviderSubscription(provider.ID)
	if len(failed) != 2 {
		t.Fatalf("FailProviderSubscription returned %d, want 2", len(failed))
	}
	for _, p := range failed {
		if p != p1 && p != p2 {
			t.Errorf("unexpected pending in failed set: %+v", p)
		}
	}

	if c.Count() != 1 {
		t.Fatalf("Count after FailProviderSubscription = %d, want 1", c.Count())
	}
	if _, err := c.Result(otherProvider.ClientID, other.InvocationID); err != nil {
		t.Fatalf("unrelated invocation was disturbed: %v", err)
	}
}

func TestCoordinator_FailProviderClient(t *testing.T) {
	subs := subscription.NewTable()
	providerA := mustProvider(t, subs, "provider-1", "dev/lamp")
	providerB := mustProvider(t, subs, "provider-1", "dev/fan")

	c := NewCoordinator()
	c.Invoke("requester-1", nil, providerA, "dev/lamp", "on")
	c.Invoke("requester-2", nil, providerB, "dev/fan", "on")

	failed := c.FailProviderClient("provider-1")
	if len(failed) != 2 {
		t.Fatalf("FailProviderClient returned %d, want 2", len(failed))
	}
	if c.Count() != 0 {
		t.Errorf("Count after FailProviderClient = %d, want 0", c.Count())
	}
}

func TestCoordinator_AbandonRequesterKeepsInvocationResolvable(t *testing.T) {
	subs := subscription.NewTable()
	provider := mustProvider(t, subs, "provider-1", "dev/lamp")

	c := NewCoordinator()
	pending := c.Invoke("requester-1", nil, provider, "dev/lamp", "on")

	c.AbandonRequester("requester-1")
	if !pending.Abandoned() {
		t.Fatal("Abandoned() = false after AbandonRequester")
	}
	if c.Count() != 1 {
		t.Fatalf("AbandonRequester must not remove the pending invocation, Count = %d", c.Count())
	}

	got, err := c.Result("provider-1", pending.InvocationID)
	if err != nil {
		t.Fatalf("Result after abandon: %v", err)
	}
	if !got.Abandoned() {
		t.Error("Result returned a Pending that lost its abandoned flag")
	}
}

func TestCoordinator_AbandonRequesterIgnoresOtherRequesters(t *testing.T) {
	subs := subscription.NewTable()
	provider := mustProvider(t, subs, "provider-1", "dev/lamp")

	c := NewCoordinator()
	mine := c.Invoke("requester-1", nil, provider, "dev/lamp", "on")
	other := c.Invoke("requester-2", nil, provider, "dev/lamp", "off")

	c.AbandonRequester("requester-1")

	if !mine.Abandoned() {
		t.Error("requester-1's invocation should be abandoned")
	}
	if other.Abandoned() {
		t.Error("requester-2's invocation should be unaffected")
	}
}
