package logger

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"testing"

	. "github.com/smartystreets/goconvey/convey"
)

func TestLoggerInit(t *testing.T) {
	Convey("Given the global logger", t, func() {
		Convey("When initialized with defaults", func() {
			So(Init(), ShouldBeNil)

			Convey("Then Get returns a usable logger", func() {
				l := Get()
				So(l, ShouldNotBeNil)
				So(func() { l.Info(context.Background(), "hello", String("k", "v")) }, ShouldNotPanic)
				So(Sync(), ShouldBeNil)
			})
		})

		Convey("When initialized with an unknown format", func() {
			err := InitWithOptions(Options{Format: "xml"})

			Convey("Then it fails", func() {
				So(err, ShouldNotBeNil)
			})
		})
	})
}

func TestLoggerJSONOutput(t *testing.T) {
	Convey("Given a JSON logger writing to a buffer", t, func() {
		var buf bytes.Buffer
		So(InitWithOptions(Options{Format: "json", Output: &buf}), ShouldBeNil)
		defer func() { _ = Init() }()

		Convey("When logging through a named child with fields", func() {
			Named("service").With(String("session", "s1")).Warn(context.Background(), "write failed",
				Error(errors.New("boom")), Int("court", 2), Bool("applied", true))
			out := buf.String()

			Convey("Then the record carries component, fields and the error text", func() {
				So(out, ShouldContainSubstring, `"component":"service"`)
				So(out, ShouldContainSubstring, `"session":"s1"`)
				So(out, ShouldContainSubstring, `"error":"boom"`)
				So(out, ShouldContainSubstring, `"court":2`)
				So(out, ShouldContainSubstring, `"source":"`)
			})
		})

		Convey("When the level is raised to error", func() {
			So(SetLevelString("error"), ShouldBeNil)
			Get().Info(context.Background(), "dropped")

			Convey("Then info records are suppressed", func() {
				So(strings.Contains(buf.String(), "dropped"), ShouldBeFalse)
			})
		})
	})
}

func TestSetLevelString(t *testing.T) {
	Convey("Given level strings", t, func() {
		So(Init(), ShouldBeNil)
		for _, lvl := range []string{"debug", "info", "", "WARN", "warning", "error"} {
			So(SetLevelString(lvl), ShouldBeNil)
		}
		So(SetLevelString("verbose"), ShouldNotBeNil)
	})
}
