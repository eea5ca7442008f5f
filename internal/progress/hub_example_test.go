package progress_test

import (
	"context"
	"fmt"
	"time"

	"github.com/JakeFAU/seo-audit-orchestrator/internal/progress"
)

// A SinkFunc can collect the final grade of every audit.
func ExampleSinkFunc() {
	grades := map[string]string{}
	hub := progress.NewHub(progress.Config{MaxBatchEvents: 1},
		progress.SinkFunc(func(_ context.Context, batch []progress.Event) error {
			for _, evt := range batch {
				if evt.Stage == progress.StageJobDone {
					grades[evt.JobID] = fmt.Sprintf("%d/%s", evt.Score, evt.Grade)
				}
			}
			return nil
		}),
	)

	hub.Emit(progress.Event{JobID: "audit-1", TS: time.Unix(0, 0), Stage: progress.StageJobStart})
	hub.Emit(progress.Event{JobID: "audit-1", TS: time.Unix(5, 0), Stage: progress.StageJobDone, Score: 82, Grade: "B"})
	if err := hub.Close(context.Background()); err != nil {
		panic(err)
	}

	fmt.Println(grades["audit-1"])
	// Output:
	// 82/B
}
