package internal

import (
	cloudevents "github.com/cloudevents/sdk-go/v2"
	"github.com/golang/glog"
	"github.com/google/uuid"
)

// NewEvent wraps data in a cloudevents envelope. This is the format of every
// message we send through our fleet (leader or broadcast).
func NewEvent(data interface{}, source, eventType string) cloudevents.Event {
	e := cloudevents.NewEvent()
	e.SetID(uuid.NewString())
	e.SetSource(source)
	e.SetType(eventType)
	if err := e.SetData(cloudevents.ApplicationJSON, data); err != nil {
		glog.Errorf("SetData failed: %v", err)
	}

	return e
}
