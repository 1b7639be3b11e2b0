package pipeline

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/lukaszKielar/lokai-web/internal/model"
)

func replace(id, content string) model.Delta {
	return model.ReplaceDelta(model.Message{ID: id, Role: model.RoleAssistant, Content: content})
}

func settleAsync(d *delivery, id, queued string) <-chan string {
	got := make(chan string, 1)
	go func() { got <- d.settle(id, queued) }()
	return got
}

func TestDelivery_SettleWaitsForQueuedContent(t *testing.T) {
	d := newDelivery()
	d.record(replace("a", "I "))

	got := settleAsync(d, "a", "I am ")
	select {
	case <-got:
		t.Fatal("settled before the queued content was written")
	case <-time.After(20 * time.Millisecond):
	}

	d.record(replace("a", "I am "))
	select {
	case content := <-got:
		assert.Equal(t, "I am ", content)
	case <-time.After(testTimeout):
		t.Fatal("settle did not return")
	}
}

func TestDelivery_StopReturnsLastWritten(t *testing.T) {
	d := newDelivery()
	d.record(replace("a", "I "))
	d.record(replace("a", "I am "))

	got := settleAsync(d, "a", "I am fine")
	d.stop()

	select {
	case content := <-got:
		assert.Equal(t, "I am ", content)
	case <-time.After(testTimeout):
		t.Fatal("settle did not return")
	}
	assert.Equal(t, "", d.settle("b", "never written"))
}

func TestDelivery_IgnoresAppendAndErrorDeltas(t *testing.T) {
	d := newDelivery()
	d.record(model.AppendDelta(model.Message{ID: "u", Role: model.RoleUser, Content: "Hello"}))
	d.record(model.ErrorDelta("upstream", "upstream inference failed"))
	d.stop()

	assert.Equal(t, "", d.settle("u", "Hello"))
}
