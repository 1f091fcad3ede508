package service_test

import (
	"context"
	"errors"
	"testing"
	"time"

	. "github.com/smartystreets/goconvey/convey"

	"github.com/okian/mimic/internal/adapters/repository"
	service "github.com/okian/mimic/internal/app"
	"github.com/okian/mimic/internal/domain/benchmark"
	"github.com/okian/mimic/internal/domain/model"
	"github.com/okian/mimic/internal/domain/scoring"
)

var threeQuestions = []string{"Q1?", "Q2?", "Q3?"} //nolint:gochecknoglobals // test fixture

func newService(f *fakeLLM, opts ...service.Option) *service.Service {
	set, err := benchmark.New(threeQuestions)
	if err != nil {
		panic(err)
	}
	base := []service.Option{
		service.WithStore(repository.NewMemoryStore()),
		service.WithLLM(f),
		service.WithQuestions(set),
		service.WithWorkerCount(2),
	}
	return service.New(append(base, opts...)...)
}

// keepOpen lets a test read the store after the service closed it.
type keepOpen struct{ repository.Store }

func (keepOpen) Close() error { return nil }

// slowFinalWrite holds the analyzed write for slowID until release is closed.
type slowFinalWrite struct {
	repository.Store
	slowID  string
	entered chan struct{}
	release chan struct{}
}

func (s *slowFinalWrite) Update(ctx context.Context, id string, patch model.Patch) (*model.Pipeline, error) {
	if id == s.slowID && patch.Status != nil && *patch.Status == model.StatusAnalyzed {
		close(s.entered)
		<-s.release
	}
	return s.Store.Update(ctx, id, patch)
}

func TestService_Lifecycle(t *testing.T) {
	Convey("Given a new service", t, func() {
		svc := newService(newFakeLLM())
		defer svc.Stop()

		Convey("Stats before start report it stopped", func() {
			So(svc.GetStats()["started"], ShouldEqual, false)
		})

		Convey("When started", func() {
			So(svc.Start(context.Background()), ShouldBeNil)
			So(svc.Start(context.Background()), ShouldBeNil)
			stats := svc.GetStats()

			Convey("Then stats include queue and store figures", func() {
				So(stats["started"], ShouldEqual, true)
				So(stats["queueLength"], ShouldEqual, 0)
				So(stats["pipelines"], ShouldEqual, 0)
				So(stats["benchmarkQuestions"], ShouldEqual, 3)
				So(stats["queueCapacity"], ShouldEqual, 256)
				So(stats["queueClosed"], ShouldEqual, false)
				So(stats["workers"], ShouldEqual, 2)
			})

			Convey("And after stopping, triggers are refused", func() {
				svc.Stop()
				So(svc.GetStats()["started"], ShouldEqual, false)
				err := svc.TriggerAnalysis(context.Background(), "anything")
				So(model.KindOf(err), ShouldEqual, model.KindBackpressure)
			})
		})
	})
}

func TestService_CreatePipeline(t *testing.T) {
	Convey("Given a service", t, func() {
		ctx := context.Background()
		svc := newService(newFakeLLM())
		defer svc.Stop()

		Convey("A valid pipeline starts pending with trimmed models in order", func() {
			p, err := svc.CreatePipeline(ctx, "hello there", []string{" model-b ", "model-a"})
			So(err, ShouldBeNil)
			So(p.ID, ShouldNotBeBlank)
			So(p.Status, ShouldEqual, model.StatusPending)
			So(p.SelectedModels, ShouldResemble, []string{"model-b", "model-a"})

			progress, err := svc.Progress(ctx, p.ID)
			So(err, ShouldBeNil)
			So(progress.Step, ShouldEqual, model.StepUpload)
			So(progress.Progress, ShouldEqual, 10)
		})

		Convey("Invalid input is a validation error and stores nothing", func() {
			cases := []struct {
				transcript string
				models     []string
				want       error
			}{
				{"   ", []string{"m"}, service.ErrEmptyTranscript},
				{"hi", nil, service.ErrNoModels},
				{"hi", []string{"m", " "}, service.ErrBlankModel},
				{"hi", []string{"m", "m"}, service.ErrDuplicateModel},
			}
			for _, c := range cases {
				_, err := svc.CreatePipeline(ctx, c.transcript, c.models)
				So(errors.Is(err, c.want), ShouldBeTrue)
				So(model.KindOf(err), ShouldEqual, model.KindValidation)
			}
			list, err := svc.ListPipelines(ctx)
			So(err, ShouldBeNil)
			So(list, ShouldBeEmpty)
		})

		Convey("Unknown ids are NotFound everywhere", func() {
			_, err := svc.GetPipeline(ctx, "missing")
			So(model.KindOf(err), ShouldEqual, model.KindNotFound)
			_, err = svc.Progress(ctx, "missing")
			So(model.KindOf(err), ShouldEqual, model.KindNotFound)
			So(model.KindOf(svc.RunPersonaAnalysis(ctx, "missing")), ShouldEqual, model.KindNotFound)
			So(model.KindOf(svc.RunModelEvaluation(ctx, "missing")), ShouldEqual, model.KindNotFound)
			So(model.KindOf(svc.TriggerAnalysis(ctx, "missing")), ShouldEqual, model.KindNotFound)
			So(svc.InFlight(), ShouldBeEmpty)
		})
	})
}

func TestService_PersonaAnalysis(t *testing.T) {
	Convey("Given a pending pipeline", t, func() {
		ctx := context.Background()
		f := newFakeLLM()
		svc := newService(f)
		defer svc.Stop()
		p, err := svc.CreatePipeline(ctx, "um so like, I was there\nyou know, it was fun", []string{"model-a", "model-b"})
		So(err, ShouldBeNil)

		Convey("When analysis succeeds", func() {
			So(svc.RunPersonaAnalysis(ctx, p.ID), ShouldBeNil)
			got, err := svc.GetPipeline(ctx, p.ID)
			So(err, ShouldBeNil)

			Convey("Then the analysis and prompt are stored together", func() {
				So(got.Status, ShouldEqual, model.StatusAnalyzed)
				So(*got.PersonaAnalysis, ShouldResemble, f.analysis)
				So(got.SystemPrompt, ShouldNotBeNil)
				for _, d := range []string{"casual", "conversational", "frequent filler words", "friendly"} {
					So(*got.SystemPrompt, ShouldContainSubstring, d)
				}
				So(got.EvaluationResults, ShouldBeNil)
				So(got.ErrorMessage, ShouldBeNil)
			})

			Convey("And progress is stable between calls", func() {
				a, err := svc.Progress(ctx, p.ID)
				So(err, ShouldBeNil)
				b, _ := svc.Progress(ctx, p.ID)
				So(a, ShouldResemble, b)
				So(a.Step, ShouldEqual, model.StepAnalyze)
				So(a.Progress, ShouldEqual, 50)
			})

			Convey("And analysis cannot run twice", func() {
				err := svc.RunPersonaAnalysis(ctx, p.ID)
				So(errors.Is(err, service.ErrWrongStatus), ShouldBeTrue)
				So(model.KindOf(err), ShouldEqual, model.KindValidation)
			})
		})

		Convey("When analysis fails", func() {
			f.analyzeErr = errors.New("provider exploded")
			err := svc.RunPersonaAnalysis(ctx, p.ID)

			Convey("Then the pipeline is in error with a message and nothing else", func() {
				So(model.KindOf(err), ShouldEqual, model.KindService)
				got, _ := svc.GetPipeline(ctx, p.ID)
				So(got.Status, ShouldEqual, model.StatusError)
				So(*got.ErrorMessage, ShouldContainSubstring, "provider exploded")
				So(got.PersonaAnalysis, ShouldBeNil)
				So(got.SystemPrompt, ShouldBeNil)
				So(got.EvaluationResults, ShouldBeNil)

				progress, _ := svc.Progress(ctx, p.ID)
				So(progress.Step, ShouldEqual, model.StepAnalyze)
				So(progress.Message, ShouldContainSubstring, "provider exploded")
			})

			Convey("And evaluation is refused without calling any model", func() {
				err := svc.RunModelEvaluation(ctx, p.ID)
				So(errors.Is(err, service.ErrNoSystemPrompt), ShouldBeTrue)
				So(model.KindOf(err), ShouldEqual, model.KindValidation)
				So(f.probeCount(), ShouldEqual, 0)
			})
		})

		Convey("Evaluation before analysis is refused and leaves the pipeline untouched", func() {
			err := svc.RunModelEvaluation(ctx, p.ID)
			So(model.KindOf(err), ShouldEqual, model.KindValidation)
			got, _ := svc.GetPipeline(ctx, p.ID)
			So(got, ShouldResemble, p)
		})
	})
}

func analyzedPipeline(ctx context.Context, svc *service.Service, models ...string) *model.Pipeline {
	p, err := svc.CreatePipeline(ctx, "hey, so yeah", models)
	So(err, ShouldBeNil)
	So(svc.RunPersonaAnalysis(ctx, p.ID), ShouldBeNil)
	return p
}

func TestService_ModelEvaluation(t *testing.T) {
	ctx := context.Background()

	Convey("Given two models scoring 0.85 and 0.70", t, func() {
		f := newFakeLLM()
		f.scores["model-a"] = scoring.NewScore(0.85, 0.85, 0.85)
		f.scores["model-b"] = scoring.NewScore(0.70, 0.70, 0.70)
		svc := newService(f)
		defer svc.Stop()
		p := analyzedPipeline(ctx, svc, "model-a", "model-b")

		So(svc.RunModelEvaluation(ctx, p.ID), ShouldBeNil)
		got, err := svc.GetPipeline(ctx, p.ID)
		So(err, ShouldBeNil)

		Convey("Then results follow selection and question order", func() {
			So(got.Status, ShouldEqual, model.StatusComplete)
			So(got.EvaluationResults, ShouldHaveLength, 2)
			So(got.EvaluationResults[0].ModelName, ShouldEqual, "model-a")
			So(got.EvaluationResults[1].ModelName, ShouldEqual, "model-b")
			for _, r := range got.EvaluationResults {
				So(r.Responses, ShouldHaveLength, 3)
				for i, q := range threeQuestions {
					So(r.Responses[i].Question, ShouldEqual, q)
				}
			}
			So(got.EvaluationResults[0].AverageScore, ShouldAlmostEqual, 0.85)
			So(got.EvaluationResults[1].AverageScore, ShouldAlmostEqual, 0.70)
		})

		Convey("And model-a is best with comments", func() {
			So(*got.BestModel, ShouldEqual, "model-a")
			So(*got.JudgeComments, ShouldContainSubstring, "model-a")
			progress, _ := svc.Progress(ctx, p.ID)
			So(progress.Step, ShouldEqual, model.StepComplete)
			So(progress.Progress, ShouldEqual, 100)
		})

		Convey("And a complete pipeline cannot be evaluated again", func() {
			So(errors.Is(svc.RunModelEvaluation(ctx, p.ID), service.ErrWrongStatus), ShouldBeTrue)
		})
	})

	Convey("Given two models tied at 0.80", t, func() {
		f := newFakeLLM()
		f.scores["model-a"] = scoring.NewScore(0.80, 0.80, 0.80)
		f.scores["model-b"] = scoring.NewScore(0.80, 0.80, 0.80)
		svc := newService(f)
		defer svc.Stop()

		Convey("The first selected model wins", func() {
			p := analyzedPipeline(ctx, svc, "model-a", "model-b")
			So(svc.RunModelEvaluation(ctx, p.ID), ShouldBeNil)
			got, _ := svc.GetPipeline(ctx, p.ID)
			So(*got.BestModel, ShouldEqual, "model-a")

			q := analyzedPipeline(ctx, svc, "model-b", "model-a")
			So(svc.RunModelEvaluation(ctx, q.ID), ShouldBeNil)
			got, _ = svc.GetPipeline(ctx, q.ID)
			So(*got.BestModel, ShouldEqual, "model-b")
		})
	})

	Convey("Given models evaluated in parallel that finish in reverse order", t, func() {
		f := newFakeLLM()
		f.probeDelay["model-a"] = 30 * time.Millisecond
		f.probeDelay["model-b"] = 10 * time.Millisecond
		f.scores["model-c"] = scoring.NewScore(0.9, 0.9, 0.9)
		svc := newService(f, service.WithModelConcurrency(3))
		defer svc.Stop()
		p := analyzedPipeline(ctx, svc, "model-a", "model-b", "model-c")

		Convey("Persisted order still matches selection order", func() {
			So(svc.RunModelEvaluation(ctx, p.ID), ShouldBeNil)
			got, _ := svc.GetPipeline(ctx, p.ID)
			names := []string{}
			for _, r := range got.EvaluationResults {
				names = append(names, r.ModelName)
			}
			So(names, ShouldResemble, []string{"model-a", "model-b", "model-c"})
			So(*got.BestModel, ShouldEqual, "model-c")
		})
	})

	Convey("Given a model whose probe fails", t, func() {
		f := newFakeLLM()
		f.probeErr["model-b"] = errors.New("timeout talking to model-b")
		svc := newService(f)
		defer svc.Stop()
		p := analyzedPipeline(ctx, svc, "model-a", "model-b")

		err := svc.RunModelEvaluation(ctx, p.ID)

		Convey("Then the stage aborts and no partial results are kept", func() {
			So(model.KindOf(err), ShouldEqual, model.KindService)
			got, _ := svc.GetPipeline(ctx, p.ID)
			So(got.Status, ShouldEqual, model.StatusError)
			So(*got.ErrorMessage, ShouldContainSubstring, "model-b")
			So(got.EvaluationResults, ShouldBeNil)
			So(got.BestModel, ShouldBeNil)
			So(got.JudgeComments, ShouldBeNil)
			So(got.SystemPrompt, ShouldNotBeNil)

			progress, _ := svc.Progress(ctx, p.ID)
			So(progress.Step, ShouldEqual, model.StepEvaluate)
			So(progress.Progress, ShouldEqual, 75)
		})
	})

	Convey("Given a judge that fails", t, func() {
		f := newFakeLLM()
		f.judgeErr = errors.New("judge unavailable")
		svc := newService(f)
		defer svc.Stop()
		p := analyzedPipeline(ctx, svc, "model-a", "model-b")

		err := svc.RunModelEvaluation(ctx, p.ID)

		Convey("Then the whole stage aborts with nothing from evaluation kept", func() {
			So(model.KindOf(err), ShouldEqual, model.KindService)
			got, _ := svc.GetPipeline(ctx, p.ID)
			So(got.Status, ShouldEqual, model.StatusError)
			So(got.ErrorMessage, ShouldNotBeNil)
			So(*got.ErrorMessage, ShouldContainSubstring, "judge unavailable")
			So(got.EvaluationResults, ShouldBeNil)
			So(got.BestModel, ShouldBeNil)
			So(got.JudgeComments, ShouldBeNil)
		})
	})

	Convey("Given a judge that panics while models run in parallel", t, func() {
		f := newFakeLLM()
		f.judgePanic = "judge exploded"
		svc := newService(f, service.WithModelConcurrency(2))
		defer svc.Stop()
		p := analyzedPipeline(ctx, svc, "model-a", "model-b")

		err := svc.RunModelEvaluation(ctx, p.ID)

		Convey("Then the stage fails instead of crashing", func() {
			So(errors.Is(err, service.ErrStagePanicked), ShouldBeTrue)
			So(model.KindOf(err), ShouldEqual, model.KindService)
			got, _ := svc.GetPipeline(ctx, p.ID)
			So(got.Status, ShouldEqual, model.StatusError)
			So(got.EvaluationResults, ShouldBeNil)
			So(svc.InFlight(), ShouldBeEmpty)
		})
	})

	Convey("Given judge comments that fail", t, func() {
		f := newFakeLLM()
		f.commentsErr = errors.New("no comment")
		svc := newService(f)
		defer svc.Stop()
		p := analyzedPipeline(ctx, svc, "model-a")

		Convey("The whole stage fails", func() {
			So(model.KindOf(svc.RunModelEvaluation(ctx, p.ID)), ShouldEqual, model.KindService)
			got, _ := svc.GetPipeline(ctx, p.ID)
			So(got.Status, ShouldEqual, model.StatusError)
			So(got.EvaluationResults, ShouldBeNil)
		})
	})
}

func TestService_BackgroundStages(t *testing.T) {
	ctx := context.Background()

	Convey("Given a started service with a gated analysis", t, func() {
		f := newFakeLLM()
		f.gate = make(chan struct{})
		svc := newService(f)
		So(svc.Start(ctx), ShouldBeNil)
		defer svc.Stop()

		p, err := svc.CreatePipeline(ctx, "hello hello", []string{"model-a"})
		So(err, ShouldBeNil)
		So(svc.TriggerAnalysis(ctx, p.ID), ShouldBeNil)
		<-f.entered

		Convey("Progress can be read while the stage runs", func() {
			progress, err := svc.Progress(ctx, p.ID)
			So(err, ShouldBeNil)
			So(progress.Step, ShouldEqual, model.StepAnalyze)
			So(progress.Progress, ShouldEqual, 25)
			So(svc.InFlight(), ShouldHaveLength, 1)
			close(f.gate)
			So(svc.Wait(ctx, p.ID), ShouldBeNil)
		})

		Convey("A second stage for the same pipeline is a conflict", func() {
			err := svc.TriggerAnalysis(ctx, p.ID)
			So(errors.Is(err, service.ErrStageInFlight), ShouldBeTrue)
			So(model.KindOf(err), ShouldEqual, model.KindConflict)
			So(model.KindOf(svc.RunModelEvaluation(ctx, p.ID)), ShouldEqual, model.KindConflict)

			close(f.gate)
			So(svc.Wait(ctx, p.ID), ShouldBeNil)
			got, _ := svc.GetPipeline(ctx, p.ID)
			So(got.Status, ShouldEqual, model.StatusAnalyzed)

			Convey("And evaluation can follow once it is done", func() {
				So(svc.TriggerEvaluation(ctx, p.ID), ShouldBeNil)
				So(svc.Wait(ctx, p.ID), ShouldBeNil)
				got, _ := svc.GetPipeline(ctx, p.ID)
				So(got.Status, ShouldEqual, model.StatusComplete)
				So(*got.BestModel, ShouldEqual, "model-a")
			})
		})

		Convey("Cancelling the stage fails the pipeline", func() {
			So(svc.Cancel(ctx, p.ID), ShouldBeNil)
			_ = svc.Wait(ctx, p.ID)

			got, _ := svc.GetPipeline(ctx, p.ID)
			So(got.Status, ShouldEqual, model.StatusError)
			So(*got.ErrorMessage, ShouldEqual, "Persona analysis cancelled")
			So(svc.InFlight(), ShouldBeEmpty)

			Convey("And there is nothing left to cancel", func() {
				So(model.KindOf(svc.Cancel(ctx, p.ID)), ShouldEqual, model.KindNotFound)
			})
		})
	})

	Convey("Given a background analysis that panics", t, func() {
		f := newFakeLLM()
		f.analyzePanic = "analysis exploded"
		f.gate = make(chan struct{})
		svc := newService(f)
		So(svc.Start(ctx), ShouldBeNil)
		defer svc.Stop()

		p, err := svc.CreatePipeline(ctx, "hello hello", []string{"model-a"})
		So(err, ShouldBeNil)
		So(svc.TriggerAnalysis(ctx, p.ID), ShouldBeNil)
		<-f.entered
		go func() {
			time.Sleep(20 * time.Millisecond)
			close(f.gate)
		}()

		waitCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
		defer cancel()
		err = svc.Wait(waitCtx, p.ID)

		Convey("Then the stage settles in error and frees the pipeline", func() {
			So(errors.Is(err, service.ErrStagePanicked), ShouldBeTrue)
			So(model.KindOf(err), ShouldEqual, model.KindService)
			So(svc.InFlight(), ShouldBeEmpty)

			got, _ := svc.GetPipeline(ctx, p.ID)
			So(got.Status, ShouldEqual, model.StatusError)
			So(*got.ErrorMessage, ShouldContainSubstring, "analysis exploded")

			again := svc.TriggerAnalysis(ctx, p.ID)
			So(errors.Is(again, service.ErrWrongStatus), ShouldBeTrue)
			So(model.KindOf(again), ShouldEqual, model.KindValidation)
		})
	})

	Convey("Given a pipeline whose final write is slow", t, func() {
		f := newFakeLLM()
		store := &slowFinalWrite{
			Store:   repository.NewMemoryStore(),
			entered: make(chan struct{}),
			release: make(chan struct{}),
		}
		svc := newService(f, service.WithStore(store))
		So(svc.Start(ctx), ShouldBeNil)
		defer svc.Stop()

		a, _ := svc.CreatePipeline(ctx, "first", []string{"model-a"})
		b, _ := svc.CreatePipeline(ctx, "second", []string{"model-a"})
		store.slowID = a.ID
		So(svc.TriggerAnalysis(ctx, a.ID), ShouldBeNil)
		<-store.entered

		Convey("Triggers for other pipelines do not wait for it", func() {
			start := time.Now()
			So(svc.TriggerAnalysis(ctx, b.ID), ShouldBeNil)
			So(time.Since(start), ShouldBeLessThan, 500*time.Millisecond)
			So(svc.Wait(ctx, b.ID), ShouldBeNil)

			close(store.release)
			So(svc.Wait(ctx, a.ID), ShouldBeNil)
			got, _ := svc.GetPipeline(ctx, a.ID)
			So(got.Status, ShouldEqual, model.StatusAnalyzed)
		})
	})

	Convey("Given an awaited analysis that is cancelled", t, func() {
		f := newFakeLLM()
		f.gate = make(chan struct{})
		svc := newService(f)
		defer svc.Stop()
		p, err := svc.CreatePipeline(ctx, "hello hello", []string{"model-a"})
		So(err, ShouldBeNil)

		done := make(chan error, 1)
		go func() { done <- svc.RunPersonaAnalysis(ctx, p.ID) }()
		<-f.entered
		So(svc.Cancel(ctx, p.ID), ShouldBeNil)
		err = <-done

		Convey("The caller sees a cancelled service error", func() {
			So(errors.Is(err, service.ErrStageCancelled), ShouldBeTrue)
			So(model.KindOf(err), ShouldEqual, model.KindService)
			got, _ := svc.GetPipeline(ctx, p.ID)
			So(got.Status, ShouldEqual, model.StatusError)
		})
	})

	Convey("Given an awaited analysis still running at shutdown", t, func() {
		f := newFakeLLM()
		f.gate = make(chan struct{})
		store := repository.NewMemoryStore()
		svc := newService(f, service.WithStore(keepOpen{store}))
		p, err := svc.CreatePipeline(ctx, "hello hello", []string{"model-a"})
		So(err, ShouldBeNil)

		done := make(chan error, 1)
		go func() { done <- svc.RunPersonaAnalysis(ctx, p.ID) }()
		<-f.entered
		svc.Stop()

		Convey("Stop cancels it and records the failure before closing the store", func() {
			So(errors.Is(<-done, service.ErrStageCancelled), ShouldBeTrue)
			got, err := store.Get(ctx, p.ID)
			So(err, ShouldBeNil)
			So(got.Status, ShouldEqual, model.StatusError)
		})
	})

	Convey("Given a stopped worker pool with a queue of one", t, func() {
		f := newFakeLLM()
		store := repository.NewMemoryStore()
		svc := newService(f, service.WithQueueSize(1), service.WithStore(keepOpen{store}))
		a, _ := svc.CreatePipeline(ctx, "first", []string{"m"})
		b, _ := svc.CreatePipeline(ctx, "second", []string{"m"})

		Convey("A full queue is backpressure and frees the pipeline", func() {
			So(svc.TriggerAnalysis(ctx, a.ID), ShouldBeNil)
			err := svc.TriggerAnalysis(ctx, b.ID)
			So(model.KindOf(err), ShouldEqual, model.KindBackpressure)
			So(svc.InFlight(), ShouldHaveLength, 1)

			Convey("And stopping fails the queued stage", func() {
				svc.Stop()
				got, err := store.Get(ctx, a.ID)
				So(err, ShouldBeNil)
				So(got.Status, ShouldEqual, model.StatusError)
			})
		})
		Reset(svc.Stop)
	})
}
