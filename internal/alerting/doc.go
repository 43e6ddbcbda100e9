// Package alerting turns classified audio detections into human-facing
// alerts: rule matching, duplicate suppression, alert construction,
// persistence, and notification dispatch.
package alerting
