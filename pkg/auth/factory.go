// SPDX-License-Identifier: AGPL-3.0
// Copyright 2025 Kadir Pekel
//
// Licensed under the GNU Affero General Public License v3.0 (AGPL-3.0) (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     https://www.gnu.org/licenses/agpl-3.0.en.html
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package auth

// NewValidatorFromSettings creates a JWTValidator from the server's auth
// settings. Returns nil if authentication is disabled, so callers can
// always wire the result into their router without a nil-check branch at
// every call site. Takes primitives rather than a *config.AuthConfig to
// keep pkg/auth independent of pkg/config.
func NewValidatorFromSettings(enabled bool, jwksURL, issuer, audience string) (*JWTValidator, error) {
	if !enabled {
		return nil, nil
	}
	return NewJWTValidator(jwksURL, issuer, audience)
}
