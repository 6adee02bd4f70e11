// Package crack implements crack submission: recording a cracked hash,
// propagating it across hash lists in the same project, and marking
// sibling tasks stale. An unknown hash value is an expected, in-band
// outcome; storage failures roll the whole submission back.
package crack
