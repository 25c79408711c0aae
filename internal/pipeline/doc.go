// Package pipeline runs the two checkpointed stages of a tracking run.
//
// Each run first decides, per stage, whether the checkpoints on disk can be
// reloaded or the stage has to be recomputed. Detection runs on the
// reference frame and is checkpointed under every frame identity; matching
// runs the forward-backward tracker and checkpoints the matched table. A
// recomputed detection always forces matching to be recomputed too.
package pipeline
