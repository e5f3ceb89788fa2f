// Command treedemo renders a small effect tree through the treerender
// scheduler and prints per-node timing.
package main

import (
	"flag"
	"fmt"
	"image/color"
	"log"
	"log/slog"
	"os"
	"time"

	"github.com/gogpu/treerender"
	"github.com/gogpu/treerender/cache"
	_ "github.com/gogpu/treerender/gpu" // register the wgpu context pool
	"github.com/gogpu/treerender/queue"
)

func main() {
	var (
		frames  = flag.Int("frames", 10, "number of frames to render")
		workers = flag.Int("workers", 0, "slot budget (0 = worker pool size)")
		width   = flag.Float64("width", 640, "canvas width")
		height  = flag.Float64("height", 360, "canvas height")
		draft   = flag.Bool("draft", false, "draft-quality render")
		verbose = flag.Bool("v", false, "debug logging")
	)
	flag.Parse()

	if *verbose {
		treerender.SetLogger(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
			Level: slog.LevelDebug,
		})))
	}

	treerender.RegisterImageCache(cache.New(256 << 20))

	var opts []queue.Option
	if *workers > 0 {
		opts = append(opts, queue.WithWorkers(*workers))
	}
	m := queue.NewManager(opts...)
	treerender.RegisterQueueManager(m)
	defer m.Shutdown()

	// A small compositing graph: two sources merged over a background.
	roi := treerender.RectD{X2: *width, Y2: *height}
	bg := newFillEffect("background", roi, color.NRGBA{R: 24, G: 24, B: 32, A: 255})
	fg := newFillEffect("foreground", roi, color.NRGBA{R: 220, G: 90, B: 40, A: 255})
	blur := newDelayEffect("blur", 3*time.Millisecond, fg)
	out := newDelayEffect("merge", time.Millisecond, bg, blur)

	stats := treerender.NewRenderStats()
	begin := time.Now()
	for frame := 0; frame < *frames; frame++ {
		render := treerender.New(treerender.Args{
			Time:     treerender.TimeValue(frame),
			TreeRoot: out,
			Stats:    stats,
			Draft:    *draft,
		})
		m.LaunchRender(render)
		result, status := m.WaitForRenderFinished(render)
		if treerender.IsFailure(status) {
			log.Fatalf("frame %d failed: %v", frame, status)
		}
		img := result.ProducedImage()
		fmt.Printf("frame %3d: %s %v\n", frame, img.Bounds, status)
	}

	fmt.Printf("\nrendered %d frames in %v\n", *frames, time.Since(begin).Round(time.Millisecond))
	snap := stats.Snapshot()
	fmt.Printf("%d tasks, %v total node time\n", snap.Tasks, snap.Total.Round(time.Millisecond))
	for node, d := range snap.PerNode {
		fmt.Printf("  %-12s %v\n", node, d.Round(time.Microsecond))
	}
}
