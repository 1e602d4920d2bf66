package enhance

const summaryPrompt = `You are an expert document summarizer for an internal company help desk.

USER QUERY: %s

DOCUMENTS TO SUMMARIZE:
%s

Create a comprehensive yet concise summary that:
1. Directly addresses the user's query if provided
2. Highlights the most important information from the documents
3. Keeps key details like procedures, policies and specific instructions
4. Uses clear, employee-friendly language
5. Organizes information logically

SUMMARY:`

const respondPrompt = `You are an expert support assistant for company employees.

CONVERSATION CONTEXT:
%s

CURRENT USER QUERY: %s
DETECTED INTENT: %s

RETRIEVED COMPANY INFORMATION:
%s

Generate a response that:
1. Directly addresses the user's specific question
2. Uses the retrieved company information
3. Follows on from the previous exchanges
4. Adapts its tone to the intent:
   - complaint: empathetic and solution-focused
   - inquiry: informative and helpful
   - request: action-oriented and clear
   - general: professional and friendly
5. Acknowledges limitations if the information is incomplete
6. Suggests next steps when appropriate

Never mention document names or file names.

Generate a natural, helpful response:`

const followUpPrompt = `Based on this support interaction, suggest relevant follow-up questions.

USER QUERY: %s
ASSISTANT RESPONSE: %s
CONTEXT: %s

Generate 3-5 follow-up questions that:
1. Build naturally on the current conversation
2. Address related topics the user might want to know
3. Are specific and actionable

Write one question per line.

Follow-up questions:`

const faqPrompt = `You are an expert at writing FAQs from company documentation.

COMPANY DOCUMENTATION:
%s

Generate %d high-quality FAQ pairs that:
1. Address questions employees are likely to ask about this documentation
2. Give clear, actionable answers
3. Cover different topics from the documentation
4. Are specific and helpful

Format each FAQ as:
Q: [Question]
A: [Answer]

FAQs:`

const variationPrompt = `You are creating variations of a support response for A/B testing.

ORIGINAL RESPONSE:
%s

Generate %d different variations that:
1. Keep the same core information and accuracy
2. Use different phrasing and structure
3. Vary in tone (professional, friendly, concise)

Write each variation as a single numbered line.

Variations:`

const questionPrompt = `You are generating end-user questions for a company FAQ chatbot.
Given the snippet below, produce %d diverse, realistic questions.
Do NOT copy sentences verbatim; vary phrasing and specificity.

SNIPPET:
%s

Return one question per line.`
