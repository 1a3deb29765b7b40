package notify

import (
	"testing"

	. "github.com/smartystreets/goconvey/convey"
)

func TestBus(t *testing.T) {
	Convey("Notification bus", t, func() {
		bus := NewBus()

		Convey("Delivers notices to subscribers", func() {
			ch := bus.Subscribe(4)
			bus.Publish(Warning, "connection lost, reconnecting in %d seconds", 1)

			notice := <-ch
			So(notice.Level, ShouldEqual, Warning)
			So(notice.Message, ShouldEqual, "connection lost, reconnecting in 1 seconds")
		})

		Convey("Never blocks on a full subscriber", func() {
			ch := bus.Subscribe(1)
			bus.Publish(Info, "first")
			bus.Publish(Info, "second")

			// The oldest notice was displaced by the newest.
			notice := <-ch
			So(notice.Message, ShouldEqual, "second")
		})

		Convey("Supports multiple subscribers", func() {
			a := bus.Subscribe(1)
			c := bus.Subscribe(1)
			bus.Publish(Success, "reconnected")

			So((<-a).Level, ShouldEqual, Success)
			So((<-c).Level, ShouldEqual, Success)
		})
	})
}
