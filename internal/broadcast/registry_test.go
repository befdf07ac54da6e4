package broadcast

import (
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestRegistrySubscribeIsSymmetric(t *testing.T) {
	r := NewRegistry()
	r.Subscribe("c1", "d1")
	r.Subscribe("c1", "d1")
	r.Subscribe("c2", "d1")
	r.SubscribeUser("c1", "u1")

	assert.Equal(t, []string{"c1", "c2"}, r.SubscribersOf("d1"))
	assert.Equal(t, []string{"c1"}, r.UserSubscribersOf("u1"))
	assert.Equal(t, []string{"document:d1", "user:u1"}, r.SubscriptionsOf("c1"))

	r.Unsubscribe("c2", "d1")
	assert.Equal(t, []string{"c1"}, r.SubscribersOf("d1"))
	assert.Empty(t, r.SubscriptionsOf("c2"))

	topics, conns := r.Len()
	assert.Equal(t, 2, topics)
	assert.Equal(t, 1, conns)
}

func TestRegistryPrunesEmptySets(t *testing.T) {
	r := NewRegistry()
	r.Subscribe("c1", "d1")
	r.UnsubscribeUser("c1", "never-joined")
	r.Unsubscribe("c1", "d1")
	r.Unsubscribe("c1", "d1")

	topics, conns := r.Len()
	assert.Zero(t, topics)
	assert.Zero(t, conns)
}

func TestRegistryDisconnectLeavesNoResidue(t *testing.T) {
	r := NewRegistry()
	for i := 0; i < 5; i++ {
		r.Subscribe("c1", fmt.Sprintf("d%d", i))
	}
	r.SubscribeUser("c1", "u1")
	r.Subscribe("c2", "d0")

	r.OnDisconnect("c1")
	r.OnDisconnect("c1")

	assert.Empty(t, r.SubscriptionsOf("c1"))
	assert.Equal(t, []string{"c2"}, r.SubscribersOf("d0"))
	assert.Empty(t, r.UserSubscribersOf("u1"))
	topics, conns := r.Len()
	assert.Equal(t, 1, topics)
	assert.Equal(t, 1, conns)
}

func TestRegistryRecipientsDeduplicates(t *testing.T) {
	r := NewRegistry()
	r.Subscribe("both", "d1")
	r.SubscribeUser("both", "u1")
	r.SubscribeUser("user-only", "u1")
	r.Subscribe("doc-only", "d1")
	r.Subscribe("other", "d2")

	got := r.Recipients("d1", "u1")
	assert.Equal(t, []Recipient{
		{ConnID: "both", Topic: "document:d1"},
		{ConnID: "doc-only", Topic: "document:d1"},
		{ConnID: "user-only", Topic: "user:u1"},
	}, got)
	assert.Len(t, r.Recipients("d1", ""), 2)
}

func TestRegistryConcurrentUse(t *testing.T) {
	r := NewRegistry()
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			conn := fmt.Sprintf("c%d", i)
			r.Subscribe(conn, "shared")
			r.SubscribeUser(conn, "u")
			_ = r.Recipients("shared", "u")
			r.OnDisconnect(conn)
		}(i)
	}
	wg.Wait()
	topics, conns := r.Len()
	assert.Zero(t, topics)
	assert.Zero(t, conns)
}

func TestParseTopic(t *testing.T) {
	kind, id, ok := ParseTopic("document:abc")
	assert.True(t, ok)
	assert.Equal(t, "document", kind)
	assert.Equal(t, "abc", id)

	_, _, ok = ParseTopic("user:")
	assert.False(t, ok)
	_, _, ok = ParseTopic("room:1")
	assert.False(t, ok)
}
