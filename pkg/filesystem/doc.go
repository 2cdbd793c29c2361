// Package filesystem provides the filesystem utilities underlying change
// detection: path normalization, tree walking with injectable metadata
// functions, and extraction of file identity information.
package filesystem
