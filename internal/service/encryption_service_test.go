package service

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	testAESKey  = "0123456789abcdef0123456789abcdef0123456789abcdef0123456789abcdef"
	otherAESKey = "abcdef0123456789abcdef0123456789abcdef0123456789abcdef0123456789"
)

func TestAESEncryptionService_RejectsBadKeys(t *testing.T) {
	_, err := NewAESEncryptionService("shortkey")
	assert.Error(t, err)
	_, err = NewAESEncryptionService(testAESKey, "abcd")
	assert.ErrorContains(t, err, "key 1")
	_, err = NewEncryptionServiceFromSecret("")
	assert.Error(t, err)
}

func TestAESEncryptionService_RoundTrip(t *testing.T) {
	svc, err := NewAESEncryptionService(testAESKey)
	require.NoError(t, err)

	c1, err := svc.Encrypt("whsec_tenant_endpoint_secret")
	require.NoError(t, err)
	c2, err := svc.Encrypt("whsec_tenant_endpoint_secret")
	require.NoError(t, err)
	assert.NotEqual(t, c1, c2, "every seal uses a fresh nonce")

	for _, c := range []string{c1, c2} {
		plaintext, err := svc.Decrypt(c)
		require.NoError(t, err)
		assert.Equal(t, "whsec_tenant_endpoint_secret", plaintext)
	}
}

func TestAESEncryptionService_DecryptFailures(t *testing.T) {
	svc, err := NewAESEncryptionService(testAESKey)
	require.NoError(t, err)
	ciphertext, err := svc.Encrypt("secret")
	require.NoError(t, err)
	other, err := NewAESEncryptionService(otherAESKey)
	require.NoError(t, err)

	last := "ff"
	if ciphertext[len(ciphertext)-2:] == last {
		last = "00"
	}

	tests := []struct {
		name       string
		ciphertext string
	}{
		{"tampered", ciphertext[:len(ciphertext)-2] + last},
		{"not hex", "not-hex-at-all!!!"},
		{"too short", "abcdef"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			_, err := svc.Decrypt(tc.ciphertext)
			assert.Error(t, err)
		})
	}

	_, err = other.Decrypt(ciphertext)
	assert.ErrorIs(t, err, errUndecryptable)
}

func TestAESEncryptionService_KeyRotation(t *testing.T) {
	old, err := NewEncryptionServiceFromSecret("old master secret")
	require.NoError(t, err)
	sealedOld, err := old.Encrypt("whsec_before_rotation")
	require.NoError(t, err)

	rotated, err := NewEncryptionServiceFromSecret("new master secret", "old master secret", "")
	require.NoError(t, err)
	assert.Len(t, rotated.keys, 2, "empty previous secrets are skipped")

	plaintext, err := rotated.Decrypt(sealedOld)
	require.NoError(t, err)
	assert.Equal(t, "whsec_before_rotation", plaintext)

	sealedNew, err := rotated.Encrypt("whsec_after_rotation")
	require.NoError(t, err)
	_, err = old.Decrypt(sealedNew)
	assert.Error(t, err, "new ciphertexts use the new key only")
}

func TestNewEncryptionServiceFromSecret_KeyDerivation(t *testing.T) {
	hexSvc, err := NewEncryptionServiceFromSecret(testAESKey)
	require.NoError(t, err)
	direct, err := NewAESEncryptionService(testAESKey)
	require.NoError(t, err)
	assert.Equal(t, direct.keys, hexSvc.keys, "a hex key is used as-is")

	d1, err := NewEncryptionServiceFromSecret("correct horse battery staple")
	require.NoError(t, err)
	d2, err := NewEncryptionServiceFromSecret("correct horse battery staple")
	require.NoError(t, err)
	require.Len(t, d1.keys, 1)
	assert.Len(t, d1.keys[0], 32)
	assert.Equal(t, d1.keys, d2.keys, "derivation is deterministic")

	ciphertext, err := d1.Encrypt("whsec_abc")
	require.NoError(t, err)
	plaintext, err := d2.Decrypt(ciphertext)
	require.NoError(t, err)
	assert.Equal(t, "whsec_abc", plaintext)
}
