// Package service is the operator side of twinsync: an HTTP client for the
// hub's twin API and the scripted sequence of desired-property patches that
// drives a device through its lifecycle.
//
// RunScript sends each patch and waits for the device to acknowledge it in
// its reported properties before moving on, so a run finishes as soon as the
// device has caught up rather than after fixed delays.
package service
