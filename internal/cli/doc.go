// Package cli implements the relocpy command line.
//
// Global flags:
//
//	-q, --quiet     Only print warnings and errors.
//	-v, --verbose   Include source locations in log output.
//	-d, --debug     Enable debug output.
//	-c, --config    Configuration file.
//	    --cache-dir Override the cache directory.
//	-j, --workers   Parallel downloads and library copies.
//
// Settings resolve as defaults, then the configuration file, then flags.
package cli
