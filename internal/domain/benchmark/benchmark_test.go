package benchmark_test

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/okian/mimic/internal/domain/benchmark"
	. "github.com/smartystreets/goconvey/convey"
)

func TestDefault(t *testing.T) {
	Convey("Given the default question set", t, func() {
		set := benchmark.Default()

		Convey("It is non-empty and stable", func() {
			So(set.Len(), ShouldBeGreaterThan, 0)
			So(set.Questions(), ShouldResemble, benchmark.Default().Questions())
		})

		Convey("Callers cannot mutate it", func() {
			qs := set.Questions()
			qs[0] = "changed"
			So(benchmark.Default().Questions()[0], ShouldNotEqual, "changed")
		})
	})
}

func TestNew(t *testing.T) {
	Convey("Given custom questions", t, func() {
		Convey("Valid questions keep their order", func() {
			set, err := benchmark.New([]string{" first ", "second"})
			So(err, ShouldBeNil)
			So(set.Questions(), ShouldResemble, []string{"first", "second"})
		})

		Convey("Empty, blank and duplicate questions are rejected", func() {
			_, err := benchmark.New(nil)
			So(errors.Is(err, benchmark.ErrInvalidQuestions), ShouldBeTrue)
			_, err = benchmark.New([]string{"a", " "})
			So(errors.Is(err, benchmark.ErrInvalidQuestions), ShouldBeTrue)
			_, err = benchmark.New([]string{"a", "a"})
			So(errors.Is(err, benchmark.ErrInvalidQuestions), ShouldBeTrue)
		})
	})
}

func TestLoadFile(t *testing.T) {
	Convey("Given a question file", t, func() {
		dir := t.TempDir()
		path := filepath.Join(dir, "questions.yaml")

		Convey("A well-formed file loads in order", func() {
			So(os.WriteFile(path, []byte("questions:\n  - one?\n  - two?\n  - three?\n"), 0o600), ShouldBeNil)
			set, err := benchmark.LoadFile(path)
			So(err, ShouldBeNil)
			So(set.Questions(), ShouldResemble, []string{"one?", "two?", "three?"})
		})

		Convey("Malformed YAML is an invalid-questions error", func() {
			So(os.WriteFile(path, []byte("questions: [unclosed"), 0o600), ShouldBeNil)
			_, err := benchmark.LoadFile(path)
			So(errors.Is(err, benchmark.ErrInvalidQuestions), ShouldBeTrue)
		})

		Convey("A missing file fails", func() {
			_, err := benchmark.LoadFile(filepath.Join(dir, "missing.yaml"))
			So(err, ShouldNotBeNil)
		})

		Convey("An empty path falls back to the defaults", func() {
			set, err := benchmark.Load("")
			So(err, ShouldBeNil)
			So(set.Len(), ShouldEqual, benchmark.Default().Len())
		})
	})
}
