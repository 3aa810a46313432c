package main

import (
	"context"
	"strconv"

	"github.com/aws/aws-lambda-go/events"
	"github.com/aws/aws-lambda-go/lambda"
	"github.com/stefando/scormhost/internal/auth"
	"github.com/stefando/scormhost/internal/config"
	"github.com/stefando/scormhost/internal/logging"
)

// authorizer is an API Gateway REQUEST authorizer for learner tokens.
type authorizer struct {
	verifier auth.Verifier
	logger   *logging.Logger
}

func (a *authorizer) handle(ctx context.Context, event events.APIGatewayCustomAuthorizerRequestTypeRequest) (events.APIGatewayCustomAuthorizerResponse, error) {
	logger := a.logger.With("method_arn", event.MethodArn, "request_id", event.RequestContext.RequestID)
	logger.Debug("Authorizer invoked", "method", event.HTTPMethod, "path", event.Path)

	header, ok := extractAuthorizationHeader(event.Headers)
	if !ok {
		logger.Info("Authorization failed", "reason", "no Authorization header")
		return createAuthorizerResponse("unauthorized", false, event.MethodArn, nil), nil
	}

	info, err := a.verifier.Verify(ctx, header)
	if err != nil {
		logger.Info("Authorization failed", "error", err)
		return createAuthorizerResponse("unauthorized", false, event.MethodArn, nil), nil
	}

	logger.Info("Authorization successful", "learner", info.Learner, "exp", info.Expiration)
	// Authorizer context values must be strings.
	return createAuthorizerResponse(info.Learner, true, event.MethodArn, map[string]interface{}{
		"learner_id":       info.Learner,
		"token_expiration": strconv.FormatInt(info.Expiration, 10),
	}), nil
}

// extractAuthorizationHeader finds the Authorization header regardless of
// the casing the gateway delivered it in.
func extractAuthorizationHeader(headers map[string]string) (string, bool) {
	if h, ok := headers["Authorization"]; ok && h != "" {
		return h, true
	}
	if h, ok := headers["authorization"]; ok && h != "" {
		return h, true
	}
	return "", false
}

func createAuthorizerResponse(principalID string, allow bool, methodArn string, context map[string]interface{}) events.APIGatewayCustomAuthorizerResponse {
	effect := "Allow"
	if !allow {
		effect = "Deny"
	}
	return events.APIGatewayCustomAuthorizerResponse{
		PrincipalID:    principalID,
		PolicyDocument: generatePolicy(effect, methodArn),
		Context:        context,
	}
}

func generatePolicy(effect, resource string) events.APIGatewayCustomAuthorizerPolicy {
	return events.APIGatewayCustomAuthorizerPolicy{
		Version: "2012-10-17",
		Statement: []events.IAMPolicyStatement{{
			Action:   []string{"execute-api:Invoke"},
			Effect:   effect,
			Resource: []string{resource},
		}},
	}
}

func main() {
	logging.CreateLogger()
	logger := logging.GetLogger()

	cfg, err := config.Load()
	if err != nil {
		logger.Fatal("Failed to load configuration", "error", err)
	}
	if cfg.OIDCIssuer == "" {
		logger.Fatal("OIDC_ISSUER must be set for the authorizer")
	}
	verifier, err := auth.NewOIDCVerifier(context.Background(), cfg.OIDCIssuer, "")
	if err != nil {
		logger.Fatal("Failed to create token verifier", "error", err)
	}

	a := &authorizer{verifier: verifier, logger: logger}
	lambda.Start(a.handle)
}
