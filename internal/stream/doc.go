// Package stream runs audio sessions for the prop. An Engine opens one stream
// at a time through a Backend, and its real-time callback feeds each buffer
// through the loudness estimator and jaw mapper to the servo, at most once per
// update interval. Sessions end on end-of-track, cancellation or timeout, and
// always tear down stream, device and servo in that order.
package stream
