package prompt

// toolSpecificPrompts holds the five per-tool extraction guides, ported
// verbatim from tools_specific_promtps.
var toolSpecificPrompts = map[string]string{
	"search_person_by_name": `EXTRACTION RULES
1. If the user requests a specific name, output {"name": "name"}.`,

	"get_profile_recommendations": `EXTRACTION RULES
1. Identify ONLY ONE matching descriptive/style keyword from this fixed list:
   ["traditional", "cute", "beautiful", "elegant", "confident", "bold",
   "romantic", "mysterious", "cheerful", "serious", "intellectual", "simple",
   "classy", "modern", "homely", "charming", "graceful", "attractive",
   "soft_spoken", "royal", "grounded"].
2. Return ONLY one keyword, exactly as listed; never synonyms or multiple
   values. If none match clearly, return null for query.
3. Detect gender from context: girl/woman/female -> "female";
   boy/man/male -> "male".
4. Output STRICT JSON only: {"query": "<allowed key or null>", "gender": "<male|female>"}.`,

	"cross_location_visual_search": `EXTRACTION RULES
1. Split the request into TARGET (who/where we want) and REFERENCE (what
   they look like / where that look comes from).
2. gender: girl/woman/lady -> "female"; boy/man/guy -> "male".
3. source_location: the location defining the visual style (e.g. "looks
   like bengali" -> "Kolkata"; "north indian" -> "Delhi"; "punjabi look" ->
   "Chandigarh"; "kashmiri" -> "Srinagar").
4. target_location: where we want to find the person (e.g. "from
   tamilnadu" -> "Chennai"; "from kerala" -> "Kochi"; "in mumbai" -> "Mumbai").
5. Output JSON: {"gender": "male"|"female", "source_location": "...", "target_location": "..."}.`,

	"search_profiles": `EXTRACTION RULES
1. Do not mix the value of one filter into another.
2. Multiple values for the same filter go in a list, e.g. {"eye_size": ["large", "small"]}.
3. A new attribute mentioned ("also blonde") -> {"hair_color": "blonde"}.
4. A changed attribute ("actually, make it Bangalore") -> {"location": "Bangalore"}.
5. A removed filter ("remove age filter") -> {"min_age": null, "max_age": null}.
6. "reset everything" / "start over" -> {"_reset": true}.
7. Exact ages use min_age/max_age: "25 years old" -> min=25,max=25;
   "above 20" -> min=21 (+1); "under 30" -> max=29 (-1);
   "between 20 and 30" -> min=20,max=30.
8. When the user asks for more matches or dislikes current ones, keep
   existing filters unchanged and never mention pagination or re-querying.
9. Height in feet, one decimal, converting cm/inches as needed:
   "above 5.5 feet" -> min_height=5.6 (+0.1); "below 6 feet" -> max_height=5.9 (-0.1).
10. Weight in kg: "above 60 kg" -> min_weight=61 (+1); "below 70 kg" -> max_weight=69 (-1).
11. Income in LPA (integer), converting rupees to LPA:
    "above 12 LPA" -> min_annual_income=13 (+1); "below 20 LPA" -> max_annual_income=19 (-1).
12. Pagination: "more"/"next"/"continue" -> {"page": 1} plus existing filters; otherwise omit page.
13. Normalize gender words (girl/woman/lady -> female, guy/man/boy -> male) and similar terms elsewhere.
14. Return JSON only; tool_args must be a dict; omit fields not present in the latest query; no empty strings or defaults.`,

	"search_by_celebrity_lookalike": `EXTRACTION RULES
1. Extract celebrity_name from the request.
2. Detect gender from pronouns/context, or the celebrity's known gender if not explicit.
3. On confirmation ("yes", "that's him"): find the exact URL in the immediate
   previous assistant message (plain or markdown link) and set
   confirmed_image_url to that exact URL; never a placeholder. If no URL is
   found and the input is strictly "yes"/"ok"/"sure"/"correct", set
   confirmed_image_url to null; otherwise omit the field to preserve state.
4. On a new search request, set confirmed_image_url explicitly to null.
5. Output JSON: {"celebrity_name": "Name", "gender": "male"|"female", "confirmed_image_url": "https://..."|null}.`,
}

// ToolSpecificPrompt returns the extraction guide for a tool, or "" if
// none is defined.
func ToolSpecificPrompt(tool string) string {
	return toolSpecificPrompts[tool]
}
