package event

import (
	"testing"
	"time"

	"github.com/objtalk/objtalk/object"
	"github.com/objtalk/objtalk/pattern"
	"github.com/objtalk/objtalk/subscription"
)

func mustPattern(t *testing.T, text string) *pattern.Pattern {
	t.Helper()
	p, err := pattern.Compile(text)
	if err != nil {
		t.Fatalf("pattern.Compile(%q): %v", text, err)
	}
	return p
}

func TestRouter_OnWrite_AddThenChange(t *testing.T) {
	subs := subscription.NewTable()
	sub := subs.Add("client-a", mustPattern(t, "sensor/+"), false)

	router := NewRouter()
	obj := object.Object{Name: "sensor/t", LastModified: time.Now()}

	adds := router.OnWrite(subs, obj, false)
	if len(adds) != 1 || adds[0].Notification.Type != TypeQueryAdd {
		t.Fatalf("OnWrite(wasPresent=false) = %+v, want one queryAdd", adds)
	}
	if adds[0].Subscription.ID != sub.ID {
		t.Errorf("dispatch targets %s, want %s", adds[0].Subscription.ID, sub.ID)
	}

	changes := router.OnWrite(subs, obj, true)
	if len(changes) != 1 || changes[0].Notification.Type != TypeQueryChange {
		t.Fatalf("OnWrite(wasPresent=true) = %+v, want one queryChange", changes)
	}
}

func TestRouter_OnWrite_NoMatchNoDispatch(t *testing.T) {
	subs := subscription.NewTable()
	subs.Add("client-a", mustPattern(t, "sensor/+"), false)

	router := NewRouter()
	dispatches := router.OnWrite(subs, object.Object{Name: "other"}, false)
	if len(dispatches) != 0 {
		t.Fatalf("OnWrite for a non-matching name = %+v, want none", dispatches)
	}
}

func TestRouter_OnRemove(t *testing.T) {
	subs := subscription.NewTable()
	sub := subs.Add("client-a", mustPattern(t, "*"), false)

	router := NewRouter()
	prior := object.Object{Name: "a", LastModified: time.Now()}
	dispatches := router.OnRemove(subs, prior)

	if len(dispatches) != 1 {
		t.Fatalf("OnRemove = %+v, want one dispatch", dispatches)
	}
	if dispatches[0].Notification.Type != TypeQueryRemove {
		t.Errorf("Type = %q, want queryRemove", dispatches[0].Notification.Type)
	}
	if dispatches[0].Subscription.ID != sub.ID {
		t.Errorf("targets %s, want %s", dispatches[0].Subscription.ID, sub.ID)
	}
}

func TestRouter_OnEvent(t *testing.T) {
	subs := subscription.NewTable()
	subs.Add("client-a", mustPattern(t, "dev/lamp"), false)

	router := NewRouter()
	dispatches := router.OnEvent(subs, "dev/lamp", "clicked", []byte(`{"n":1}`))

	if len(dispatches) != 1 {
		t.Fatalf("OnEvent = %+v, want one dispatch", dispatches)
	}
	n := dispatches[0].Notification
	if n.Type != TypeQueryEvent || n.Event != "clicked" || n.Object != "dev/lamp" {
		t.Errorf("notification = %+v, unexpected shape", n)
	}
}

func TestRouter_OnInvocation(t *testing.T) {
	subs := subscription.NewTable()
	provider := subs.Add("client-a", mustPattern(t, "dev/lamp"), true)

	router := NewRouter()
	dispatch := router.OnInvocation(provider, "inv-1", "dev/lamp", "on", []byte(`{}`))

	if dispatch.Notification.Type != TypeQueryInvocation {
		t.Errorf("Type = %q, want queryInvocation", dispatch.Notification.Type)
	}
	if dispatch.Notification.InvocationID != "inv-1" {
		t.Errorf("InvocationID = %q, want inv-1", dispatch.Notification.InvocationID)
	}
	if dispatch.Subscription.ID != provider.ID {
		t.Errorf("targets %s, want %s", dispatch.Subscription.ID, provider.ID)
	}
}
