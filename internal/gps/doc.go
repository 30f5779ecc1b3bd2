// Package gps talks to the positioning receiver over its serial link.
//
// The inbound side is lenient:
//   - no checksum verification; validity is checked on the decoded values
//   - records are reassembled across arbitrary read boundaries
//   - GGA feeds position, time of day and fix quality; VTG feeds heading
//
// The outbound side frames configuration commands and passes correction
// bytes through verbatim.
package gps
