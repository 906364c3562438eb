package policy

import (
	"time"
)

// GetBuiltinPolicies returns all built-in guardrail policies.
func GetBuiltinPolicies() []Policy {
	return []Policy{
		storageSecurityPolicy(),
		vaultRetentionPolicy(),
		replicaBoundsPolicy(),
		registryHostPolicy(),
		resourceNamingPolicy(),
		massDeletePolicy(),
	}
}

// storageSecurityPolicy locks down the storage account transport and
// blob access flags.
func storageSecurityPolicy() Policy {
	return Policy{
		Name:        "storage-security",
		Description: "Storage accounts must require HTTPS, floor TLS at 1.2, and deny public blob access",
		Severity:    SeverityError,
		Enabled:     true,
		Tags:        []string{"azure", "storage", "security"},
		CreatedAt:   time.Now(),
		UpdatedAt:   time.Now(),
		Rego: `package ticketbridge.policies.storage

import rego.v1

deny contains violation if {
	input.resource.type == "azure.storage_account"
	resource := input.resource

	not resource.config.httpsOnly
	violation := {
		"message": sprintf("Storage account %s must enforce HTTPS-only traffic", [resource.id]),
		"severity": "error",
		"resource": resource.id,
	}
}

deny contains violation if {
	input.resource.type == "azure.storage_account"
	resource := input.resource

	resource.config.minimumTlsVersion != "TLS1_2"
	violation := {
		"message": sprintf("Storage account %s must floor TLS at 1.2, got %s", [resource.id, resource.config.minimumTlsVersion]),
		"severity": "error",
		"resource": resource.id,
	}
}

deny contains violation if {
	input.resource.type == "azure.storage_account"
	resource := input.resource

	resource.config.allowBlobPublicAccess == true
	violation := {
		"message": sprintf("Storage account %s must not allow public blob access", [resource.id]),
		"severity": "error",
		"resource": resource.id,
	}
}`,
	}
}

// vaultRetentionPolicy enforces the Key Vault recovery posture.
func vaultRetentionPolicy() Policy {
	return Policy{
		Name:        "vault-retention",
		Description: "Key vaults must use RBAC authorization with soft delete retained for at least 90 days",
		Severity:    SeverityError,
		Enabled:     true,
		Tags:        []string{"azure", "keyvault", "security"},
		CreatedAt:   time.Now(),
		UpdatedAt:   time.Now(),
		Rego: `package ticketbridge.policies.vault

import rego.v1

deny contains violation if {
	input.resource.type == "azure.key_vault"
	resource := input.resource

	not resource.config.enableSoftDelete
	violation := {
		"message": sprintf("Key vault %s must enable soft delete", [resource.id]),
		"severity": "error",
		"resource": resource.id,
	}
}

deny contains violation if {
	input.resource.type == "azure.key_vault"
	resource := input.resource

	resource.config.softDeleteRetentionDays < 90
	violation := {
		"message": sprintf("Key vault %s retention is %d days, minimum is 90", [resource.id, resource.config.softDeleteRetentionDays]),
		"severity": "error",
		"resource": resource.id,
	}
}

deny contains violation if {
	input.resource.type == "azure.key_vault"
	resource := input.resource

	not resource.config.enableRbacAuthorization
	violation := {
		"message": sprintf("Key vault %s must use RBAC authorization instead of access policies", [resource.id]),
		"severity": "error",
		"resource": resource.id,
	}
}`,
	}
}

// replicaBoundsPolicy keeps the container-app scale range sane.
func replicaBoundsPolicy() Policy {
	return Policy{
		Name:        "replica-bounds",
		Description: "Container app minReplicas must not exceed maxReplicas",
		Severity:    SeverityError,
		Enabled:     true,
		Tags:        []string{"azure", "containerapp", "scaling"},
		CreatedAt:   time.Now(),
		UpdatedAt:   time.Now(),
		Rego: `package ticketbridge.policies.replicas

import rego.v1

deny contains violation if {
	input.resource.type == "azure.container_app"
	resource := input.resource

	resource.config.scale.minReplicas > resource.config.scale.maxReplicas
	violation := {
		"message": sprintf("Container app %s minReplicas %d exceeds maxReplicas %d",
			[resource.id, resource.config.scale.minReplicas, resource.config.scale.maxReplicas]),
		"severity": "error",
		"resource": resource.id,
	}
}

deny contains violation if {
	input.resource.type == "azure.container_app"
	resource := input.resource

	resource.config.scale.maxReplicas > 300
	violation := {
		"message": sprintf("Container app %s maxReplicas %d exceeds platform limit 300",
			[resource.id, resource.config.scale.maxReplicas]),
		"severity": "error",
		"resource": resource.id,
	}
}`,
	}
}

// registryHostPolicy pins the image source to Azure Container Registry.
func registryHostPolicy() Policy {
	return Policy{
		Name:        "registry-host",
		Description: "Container app images must come from an .azurecr.io registry",
		Severity:    SeverityError,
		Enabled:     true,
		Tags:        []string{"azure", "containerapp", "supply-chain"},
		CreatedAt:   time.Now(),
		UpdatedAt:   time.Now(),
		Rego: `package ticketbridge.policies.registry

import rego.v1

deny contains violation if {
	input.resource.type == "azure.container_app"
	resource := input.resource
	image := resource.config.image

	not regex.match("^[a-zA-Z0-9]+\\.azurecr\\.io/", image)
	violation := {
		"message": sprintf("Container app %s image %s is not from an .azurecr.io registry", [resource.id, image]),
		"severity": "error",
		"resource": resource.id,
	}
}`,
	}
}

// resourceNamingPolicy enforces Azure-safe naming.
func resourceNamingPolicy() Policy {
	return Policy{
		Name:        "resource-naming",
		Description: "Resource names must be lowercase alphanumeric with hyphens, 3-63 characters",
		Severity:    SeverityError,
		Enabled:     true,
		Tags:        []string{"naming", "conventions"},
		CreatedAt:   time.Now(),
		UpdatedAt:   time.Now(),
		Rego: `package ticketbridge.policies.naming

import rego.v1

deny contains violation if {
	input.resource.name
	resource := input.resource
	name := resource.name

	not regex.match("^[a-z0-9][a-z0-9-]{1,61}[a-z0-9]$", name)
	violation := {
		"message": sprintf("Resource name '%s' must be lowercase alphanumeric with interior hyphens, 3-63 characters", [name]),
		"severity": "error",
		"resource": resource.id,
	}
}

deny contains violation if {
	input.resource.type == "azure.storage_account"
	resource := input.resource
	name := resource.name

	not regex.match("^[a-z0-9]{3,24}$", name)
	violation := {
		"message": sprintf("Storage account name '%s' must be 3-24 lowercase alphanumeric characters", [name]),
		"severity": "error",
		"resource": resource.id,
	}
}`,
	}
}

// massDeletePolicy flags plans that tear down many resources at once.
func massDeletePolicy() Policy {
	return Policy{
		Name:        "mass-delete",
		Description: "Warns when a plan deletes more than three resources",
		Severity:    SeverityWarning,
		Enabled:     true,
		Tags:        []string{"operations", "safety"},
		CreatedAt:   time.Now(),
		UpdatedAt:   time.Now(),
		Rego: `package ticketbridge.policies.teardown

import rego.v1

deny contains violation if {
	input.plan
	plan := input.plan

	delete_count := count([u |
		some u in plan.units
		u.operation == "delete"
	])

	delete_count > 3

	violation := {
		"message": sprintf("Plan deletes %d resources - review before applying", [delete_count]),
		"severity": "warning",
	}
}`,
	}
}
