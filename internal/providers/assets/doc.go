// Package assets maps package-relative sources to URLs a renderer can load
// and inspects images for getImageInfo and canvas drawing.
//
// Remote images are fetched with retries behind a circuit breaker and a
// rate limiter. Decoded image headers are cached per app.
package assets
