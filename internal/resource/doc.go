// Package resource implements the process-wide resource Controller.
//
// The Controller governs three resources shared by all dataset handles:
//
//   - Memory: the byte budget of the decoded expression-row cache (fail-fast)
//   - Builds: the number of search indexes built concurrently (blocking)
//   - IO: a token bucket for index-cache writes so that bulk rebuilds do not
//     starve request traffic
//
// Index builds take a slot around the build:
//
//	rc := resource.NewController(resource.Config{
//	    MemoryLimitBytes:   256 << 20,
//	    MaxConcurrentBuilds: 2,
//	})
//
//	if err := rc.AcquireBuild(ctx); err != nil {
//	    return err
//	}
//	defer rc.ReleaseBuild()
//
// All methods are safe for concurrent use and treat a nil Controller as
// "no limits".
package resource
