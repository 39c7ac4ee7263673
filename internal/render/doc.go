// Package render turns a template Context into the artifact bundle both jobs
// mount, and publishes that bundle as a single ConfigMap.
//
// Templates are embedded and executed with text/template plus the sprig
// function map, minus sprig's clock and random helpers.
package render
