package api

import (
	"context"
	"fmt"

	"github.com/shurcooL/githubv4"
	"golang.org/x/oauth2"
)

// GraphQLClient represents a client for the GitHub GraphQL API. The REST API
// has no endpoint for "which issues does this PR close", so the linked-PR
// relation is rebuilt from this query.
type GraphQLClient struct {
	client *githubv4.Client
}

// NewGraphQLClient creates a new GraphQL client.
func NewGraphQLClient(token string) *GraphQLClient {
	src := oauth2.StaticTokenSource(
		&oauth2.Token{AccessToken: token},
	)
	httpClient := oauth2.NewClient(context.Background(), src)
	return &GraphQLClient{client: githubv4.NewClient(httpClient)}
}

// ClosingIssueNumbers returns the numbers of the issues a pull request
// declares it closes, paging through the closingIssuesReferences connection.
func (c *GraphQLClient) ClosingIssueNumbers(ctx context.Context, owner, name string, prNumber int) ([]int, error) {
	var query struct {
		Repository struct {
			PullRequest struct {
				ClosingIssuesReferences struct {
					Nodes []struct {
						Number githubv4.Int
					}
					PageInfo struct {
						EndCursor   githubv4.String
						HasNextPage githubv4.Boolean
					}
				} `graphql:"closingIssuesReferences(first: 50, after: $cursor)"`
			} `graphql:"pullRequest(number: $number)"`
		} `graphql:"repository(owner: $owner, name: $name)"`
	}

	variables := map[string]interface{}{
		"owner":  githubv4.String(owner),
		"name":   githubv4.String(name),
		"number": githubv4.Int(prNumber),
		"cursor": (*githubv4.String)(nil),
	}

	var numbers []int
	for {
		if err := c.client.Query(ctx, &query, variables); err != nil {
			return nil, fmt.Errorf("failed to query closing references: %w", err)
		}

		refs := query.Repository.PullRequest.ClosingIssuesReferences
		for _, node := range refs.Nodes {
			numbers = append(numbers, int(node.Number))
		}
		if !bool(refs.PageInfo.HasNextPage) {
			break
		}
		variables["cursor"] = githubv4.NewString(refs.PageInfo.EndCursor)
	}

	return numbers, nil
}
