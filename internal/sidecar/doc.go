// Package sidecar talks to the out-of-process face detector and lip-sync
// model over a single WebSocket connection.
//
// Every request is one JSON text message carrying an id and an op ("detect"
// or "infer"); the server answers with one message echoing the id. Pixel data
// travels as base64 RGBA, tensors as base64 little-endian float32 with an
// explicit shape. Requests are strictly sequential on a connection.
//
// Client implements both face.Detector and inference.Model, so one dialed
// connection serves a whole pipeline run.
package sidecar
