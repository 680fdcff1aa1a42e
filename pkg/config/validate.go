// Zaparoo TCD Core
// Copyright (c) 2025 The Zaparoo Project Contributors.
// SPDX-License-Identifier: GPL-3.0-or-later
//
// This file is part of Zaparoo TCD Core.
//
// Zaparoo TCD Core is free software: you can redistribute it and/or modify
// it under the terms of the GNU General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// Zaparoo TCD Core is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
// GNU General Public License for more details.
//
// You should have received a copy of the GNU General Public License
// along with Zaparoo TCD Core.  If not, see <http://www.gnu.org/licenses/>.

package config

import (
	"errors"
	"fmt"
	"net"
	"strings"

	"github.com/go-playground/validator/v10"
)

var ErrInvalidConfig = errors.New("invalid config")

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	_ = v.RegisterValidation("broker", validateBroker)
	v.RegisterStructValidation(validateMQTT, MQTT{})
	return v
}

// validateBroker accepts host:port with an optional mqtt, tcp, ssl, tls,
// ws or wss scheme.
func validateBroker(fl validator.FieldLevel) bool {
	val := fl.Field().String()
	if scheme, rest, ok := strings.Cut(val, "://"); ok {
		switch strings.ToLower(scheme) {
		case "mqtt", "mqtts", "tcp", "ssl", "tls", "ws", "wss":
		default:
			return false
		}
		val = rest
	}
	host, port, err := net.SplitHostPort(val)
	return err == nil && host != "" && port != ""
}

func validateMQTT(sl validator.StructLevel) {
	m, ok := sl.Current().Interface().(MQTT)
	if !ok {
		return
	}
	if m.Enabled && m.Broker == "" {
		sl.ReportError(m.Broker, "Broker", "broker", "required_with_enabled", "")
	}
}

// Validate checks loaded values and folds every failed field into one
// error.
func Validate(vals *Values) error {
	err := validate.Struct(vals)
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return fmt.Errorf("validation failed: %w", err)
	}
	msgs := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		msgs = append(msgs, fmt.Sprintf("%s: failed %q", fe.Namespace(), fe.Tag()))
	}
	return fmt.Errorf("%w: %s", ErrInvalidConfig, strings.Join(msgs, "; "))
}
