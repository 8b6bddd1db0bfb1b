package cli

import (
	"fmt"
	"io"

	"github.com/raphaelgruber/livechat/internal/metrics"
)

// printStats displays client runtime statistics.
func printStats(w io.Writer, snap metrics.Snapshot) {
	fmt.Fprintf(w, "\nClient Statistics (this session)\n")
	fmt.Fprintf(w, "═══════════════════════════════════\n")
	fmt.Fprintf(w, "Uptime: %.1f seconds\n", snap.UptimeSeconds)
	fmt.Fprintf(w, "Frames: %d in, %d out\n", snap.FramesIn, snap.FramesOut)
	fmt.Fprintf(w, "Reconnects: %d, dropped replies: %d\n", snap.Reconnects, snap.DroppedCycles)

	if snap.Dial != nil {
		fmt.Fprintf(w, "\nDial:\n")
		printOpStats(w, snap.Dial)
	}

	if snap.ResponseCycle != nil {
		fmt.Fprintf(w, "\nReplies:\n")
		printOpStats(w, snap.ResponseCycle)
		printChunkStats(w, snap.ResponseCycle)
	}

	if snap.StoreLocal != nil {
		fmt.Fprintf(w, "\nLocal Store:\n")
		printOpStats(w, snap.StoreLocal)
	}

	if snap.StoreRemote != nil {
		fmt.Fprintf(w, "\nRemote Store:\n")
		printOpStats(w, snap.StoreRemote)
	}
}

// printOpStats displays timing statistics for an operation.
func printOpStats(w io.Writer, op *metrics.OperationSnapshot) {
	fmt.Fprintf(w, "  Calls: %d, Total: %dms\n", op.Count, op.TotalTimeMs)
	fmt.Fprintf(w, "  Time: avg %.1fms, min %dms, max %dms\n",
		op.AvgTimeMs, op.MinTimeMs, op.MaxTimeMs)
}

// printChunkStats displays chunk statistics if available.
func printChunkStats(w io.Writer, op *metrics.OperationSnapshot) {
	if op.TotalChunks == nil || op.TotalBytes == nil {
		return
	}
	fmt.Fprintf(w, "  Chunks: %d total", *op.TotalChunks)
	if op.AvgChunks != nil {
		fmt.Fprintf(w, ", avg %.0f", *op.AvgChunks)
	}
	if op.MinChunks != nil && op.MaxChunks != nil {
		fmt.Fprintf(w, ", min %d, max %d", *op.MinChunks, *op.MaxChunks)
	}
	fmt.Fprintln(w)
	fmt.Fprintf(w, "  Bytes: %d total\n", *op.TotalBytes)
}
