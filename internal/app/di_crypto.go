package app

import (
	"context"
	"fmt"

	cryptoDomain "github.com/allisson/phivault/internal/crypto/domain"
	cryptoService "github.com/allisson/phivault/internal/crypto/service"
)

// KMSKeeper returns the opened KMS keeper, or nil when keys are supplied as
// plain hex in the environment.
func (c *Container) KMSKeeper() (cryptoService.KMSKeeper, error) {
	c.kmsInit.Do(func() {
		if c.config.KMSKeyURI == "" {
			return
		}
		keeper, err := cryptoService.NewKMSService().OpenKeeper(context.Background(), c.config.KMSKeyURI)
		if err != nil {
			c.initErrors["kms"] = err
			return
		}
		c.kmsKeeper = keeper
	})
	if err, exists := c.initErrors["kms"]; exists {
		return nil, err
	}
	return c.kmsKeeper, nil
}

// unwrapFunc returns the KMS unwrap function, or nil for raw hex keys.
func (c *Container) unwrapFunc() (cryptoDomain.UnwrapFunc, error) {
	keeper, err := c.KMSKeeper()
	if err != nil {
		return nil, err
	}
	if keeper == nil {
		return nil, nil
	}
	return keeper.Decrypt, nil
}

// KeyMaterial returns the PHI encryption key material loaded from the environment.
func (c *Container) KeyMaterial() (*cryptoDomain.KeyMaterial, error) {
	c.keyMaterialInit.Do(func() {
		unwrap, err := c.unwrapFunc()
		if err != nil {
			c.initErrors["keyMaterial"] = err
			return
		}
		material, err := cryptoDomain.LoadKeyMaterialFromEnv(context.Background(), unwrap)
		if err != nil {
			c.initErrors["keyMaterial"] = fmt.Errorf("failed to load PHI key material: %w", err)
			return
		}
		c.keyMaterial = material
	})
	if err, exists := c.initErrors["keyMaterial"]; exists {
		return nil, err
	}
	return c.keyMaterial, nil
}

// SessionSecret returns the session signing secret loaded from the environment.
func (c *Container) SessionSecret() (*cryptoDomain.Key, error) {
	c.sessionSecretInit.Do(func() {
		unwrap, err := c.unwrapFunc()
		if err != nil {
			c.initErrors["sessionSecret"] = err
			return
		}
		secret, err := cryptoDomain.LoadSessionSecretFromEnv(context.Background(), unwrap)
		if err != nil {
			c.initErrors["sessionSecret"] = fmt.Errorf("failed to load session secret: %w", err)
			return
		}
		c.sessionSecret = secret
	})
	if err, exists := c.initErrors["sessionSecret"]; exists {
		return nil, err
	}
	return c.sessionSecret, nil
}

// AuditSigningKey returns the audit trail signing key loaded from the environment.
func (c *Container) AuditSigningKey() (*cryptoDomain.Key, error) {
	c.signingKeyInit.Do(func() {
		unwrap, err := c.unwrapFunc()
		if err != nil {
			c.initErrors["signingKey"] = err
			return
		}
		key, err := cryptoDomain.LoadAuditSigningKeyFromEnv(context.Background(), unwrap)
		if err != nil {
			c.initErrors["signingKey"] = fmt.Errorf("failed to load audit signing key: %w", err)
			return
		}
		c.signingKey = key
	})
	if err, exists := c.initErrors["signingKey"]; exists {
		return nil, err
	}
	return c.signingKey, nil
}

// EnvelopeCipher returns the PHI envelope cipher.
func (c *Container) EnvelopeCipher() cryptoService.EnvelopeCipher {
	c.cipherInit.Do(func() {
		c.cipher = cryptoService.NewEnvelopeCipher(cryptoService.NewAEADManager())
	})
	return c.cipher
}
