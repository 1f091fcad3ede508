package service_test

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	. "github.com/smartystreets/goconvey/convey"

	"github.com/okian/mimic/internal/adapters/llm"
	"github.com/okian/mimic/internal/adapters/repository"
	service "github.com/okian/mimic/internal/app"
	"github.com/okian/mimic/internal/domain/model"
)

func waitForStatus(ctx context.Context, svc *service.Service, id string, want model.Status) *model.Pipeline {
	deadline := time.Now().Add(10 * time.Second)
	for time.Now().Before(deadline) {
		p, err := svc.GetPipeline(ctx, id)
		if err == nil && (p.Status == want || p.Status == model.StatusError) {
			return p
		}
		time.Sleep(5 * time.Millisecond)
	}
	p, _ := svc.GetPipeline(ctx, id)
	return p
}

func TestServiceIntegration(t *testing.T) {
	Convey("Given a service over sqlite and the simulated model", t, func() {
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()

		store, err := repository.OpenSQLite(ctx, filepath.Join(t.TempDir(), "mimic.db"))
		So(err, ShouldBeNil)
		svc := service.New(
			service.WithStore(store),
			service.WithLLM(llm.NewSimulated(llm.WithLatencyRange(time.Millisecond, 3*time.Millisecond))),
			service.WithWorkerCount(2),
			service.WithModelConcurrency(2),
		)
		So(svc.Start(ctx), ShouldBeNil)
		defer svc.Stop()

		selected := []string{"model-x", "model-y", "model-z"}
		p, err := svc.CreatePipeline(ctx, "Oh wow, that's great!\nUm, I mean, like, really great...\nYou know what I mean?", selected)
		So(err, ShouldBeNil)

		Convey("When both stages are triggered in turn", func() {
			So(svc.TriggerAnalysis(ctx, p.ID), ShouldBeNil)
			analyzed := waitForStatus(ctx, svc, p.ID, model.StatusAnalyzed)
			So(analyzed.Status, ShouldEqual, model.StatusAnalyzed)

			So(svc.TriggerEvaluation(ctx, p.ID), ShouldBeNil)
			done := waitForStatus(ctx, svc, p.ID, model.StatusComplete)

			Convey("Then the stored pipeline satisfies the result invariants", func() {
				So(done.Status, ShouldEqual, model.StatusComplete)
				So(done.PersonaAnalysis, ShouldNotBeNil)
				So(done.SystemPrompt, ShouldNotBeNil)
				So(*done.SystemPrompt, ShouldEqual, *analyzed.SystemPrompt)
				So(done.EvaluationResults, ShouldHaveLength, len(selected))

				best := -1
				for i, r := range done.EvaluationResults {
					So(r.ModelName, ShouldEqual, selected[i])
					So(r.Responses, ShouldHaveLength, 5)
					So(r.AverageScore, ShouldAlmostEqual, (r.ToneScore+r.StyleScore+r.PersonalityScore)/3, 1e-9)
					if r.ModelName == *done.BestModel {
						best = i
					}
				}
				So(best, ShouldBeGreaterThanOrEqualTo, 0)
				for i, r := range done.EvaluationResults {
					So(done.EvaluationResults[best].AverageScore, ShouldBeGreaterThanOrEqualTo, r.AverageScore)
					if r.AverageScore == done.EvaluationResults[best].AverageScore {
						So(best, ShouldBeLessThanOrEqualTo, i)
					}
				}
				So(*done.JudgeComments, ShouldContainSubstring, *done.BestModel)
				So(done.ErrorMessage, ShouldBeNil)
			})

			Convey("And the stats count the pipeline", func() {
				stats := svc.GetStats()
				So(stats["pipelines"], ShouldEqual, 1)
				So(stats["inFlight"], ShouldEqual, 0)
			})
		})
	})
}
