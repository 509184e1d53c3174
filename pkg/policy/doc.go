// Package policy admits or rejects provisioning runs with Open Policy Agent.
//
// Before a run changes anything, the workflow configuration is converted
// to an Input document and evaluated against every enabled Rego policy.
// Each policy contributes violations through its deny set. Violations of
// severity error or critical reject the run; info and warning violations
// are reported and the run continues.
//
// # Usage
//
//	eng, err := policy.NewEngine(log.Logger)
//	if err != nil {
//	    return err
//	}
//	if err := eng.LoadPolicies(ctx, []string{"/etc/wslprov/policies"}); err != nil {
//	    return err
//	}
//
//	result, err := eng.Evaluate(ctx, policy.InputFor(cfg, "alice"))
//	if err != nil {
//	    return err
//	}
//	if !result.Allowed {
//	    for _, v := range result.Violations {
//	        fmt.Println(v)
//	    }
//	}
//
// # Built-in Policies
//
//  1. sudo-package - The package list must include sudo (error)
//  2. network-exposure - Forwarding on 0.0.0.0 (warning)
//  3. network-key - Forwarding without an authorized key (warning)
//  4. dotfiles-transport - Dotfiles fetched over plain HTTP (warning)
//
// Built-in policies can be turned off with DisablePolicy.
//
// # Custom Policies
//
// Custom policies are Rego modules with a deny set:
//
//	# Only archlinux images are supported here.
//	# severity: error
//	package custom.policies.image
//
//	import rego.v1
//
//	deny contains violation if {
//	    input.image != "archlinux"
//	    violation := {
//	        "message": sprintf("image %s is not allowed", [input.image]),
//	        "remediation": "use archlinux",
//	    }
//	}
//
// A violation may be a plain string or an object with message, severity
// and remediation keys. An object's severity overrides the policy's.
package policy
