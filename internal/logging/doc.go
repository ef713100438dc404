// Package logging builds the zap logger shared by the patternd binary.
//
// Logs go to stderr so that detection output on stdout stays machine
// readable. An optional OpenTelemetry core mirrors entries to an OTLP log
// pipeline. Matched text from sensitive domains is never written verbatim;
// use RedactedString or configure redaction patterns.
package logging
